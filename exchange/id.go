package exchange

import "github.com/google/uuid"

// NewID generates an exchange ID (RFC 4122 UUID v4).
func NewID() string {
	return uuid.NewString()
}
