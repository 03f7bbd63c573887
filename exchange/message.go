package exchange

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrStreamConsumed is returned when a stream body is read a second time
// without stream caching.
var ErrStreamConsumed = errors.New("exchange: stream body already consumed")

type header struct {
	name  string
	value any
}

// Message is the header and body container carried by an Exchange.
// Header names are unique; whether they are compared case-sensitively is
// fixed when the message is created. A Message is owned by one Exchange and
// is not safe for concurrent use.
type Message struct {
	headers       map[string]header
	caseSensitive bool
	body          any
	streamCaching bool
}

// NewMessage creates a message with case-insensitive header names.
// Pass nil for headers if no headers are needed.
func NewMessage(body any, headers map[string]any) *Message {
	return newMessage(body, headers, false)
}

// NewCaseSensitiveMessage creates a message whose header names are compared exactly.
func NewCaseSensitiveMessage(body any, headers map[string]any) *Message {
	return newMessage(body, headers, true)
}

func newMessage(body any, headers map[string]any, caseSensitive bool) *Message {
	m := &Message{
		headers:       make(map[string]header, len(headers)),
		caseSensitive: caseSensitive,
		body:          body,
	}
	for k, v := range headers {
		m.SetHeader(k, v)
	}
	return m
}

func (m *Message) key(name string) string {
	if m.caseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// CaseSensitive reports the header name policy of the message.
func (m *Message) CaseSensitive() bool {
	return m.caseSensitive
}

// Header returns the value of the named header.
func (m *Message) Header(name string) (any, bool) {
	h, ok := m.headers[m.key(name)]
	return h.value, ok
}

// SetHeader sets a header, replacing any header with an equal name.
func (m *Message) SetHeader(name string, value any) {
	m.headers[m.key(name)] = header{name: name, value: value}
}

// RemoveHeader removes a header and reports whether it was present.
func (m *Message) RemoveHeader(name string) bool {
	k := m.key(name)
	if _, ok := m.headers[k]; !ok {
		return false
	}
	delete(m.headers, k)
	return true
}

// Headers returns a copy of all headers keyed by the name they were set with.
func (m *Message) Headers() map[string]any {
	out := make(map[string]any, len(m.headers))
	for _, h := range m.headers {
		out[h.name] = h.value
	}
	return out
}

// HeaderAs returns the named header converted to T.
// The second result is false if the header is missing or has another type.
func HeaderAs[T any](m *Message, name string) (T, bool) {
	v, ok := m.Header(name)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Body returns the body as set. Stream bodies are returned unread.
func (m *Message) Body() any {
	return m.body
}

// SetBody replaces the body.
func (m *Message) SetBody(body any) {
	m.body = body
}

// SetStreamCaching enables caching of a stream body so it can be read more than once.
func (m *Message) SetStreamCaching(enabled bool) {
	m.streamCaching = enabled
}

// StreamCaching reports whether stream caching is enabled.
func (m *Message) StreamCaching() bool {
	return m.streamCaching
}

// BodyBytes materializes the body as bytes.
// Stream bodies are read once; a second read fails with ErrStreamConsumed
// unless stream caching is enabled.
func (m *Message) BodyBytes() ([]byte, error) {
	switch b := m.body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case *StreamBody:
		return b.read(m.streamCaching)
	case io.Reader:
		sb := NewStreamBody(func() (io.ReadCloser, error) { return io.NopCloser(b), nil })
		m.body = sb
		return sb.read(m.streamCaching)
	case fmt.Stringer:
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("exchange: cannot convert body of type %T to bytes", m.body)
	}
}

// BodyString materializes the body as a string.
func (m *Message) BodyString() (string, error) {
	b, err := m.BodyBytes()
	return string(b), err
}

// Copy returns a message with copied headers and the same body reference.
func (m *Message) Copy() *Message {
	c := &Message{
		headers:       make(map[string]header, len(m.headers)),
		caseSensitive: m.caseSensitive,
		body:          m.body,
		streamCaching: m.streamCaching,
	}
	for k, h := range m.headers {
		c.headers[k] = h
	}
	return c
}

// StreamBody is a body materialized lazily from a reader.
type StreamBody struct {
	open func() (io.ReadCloser, error)

	mu       sync.Mutex
	consumed bool
	cached   []byte
}

// NewStreamBody creates a lazily read body. open is called at most once
// unless the message enables stream caching, in which case the bytes are kept.
func NewStreamBody(open func() (io.ReadCloser, error)) *StreamBody {
	return &StreamBody{open: open}
}

// Consumed reports whether the stream has been read.
func (s *StreamBody) Consumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed
}

func (s *StreamBody) read(cache bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}
	if s.consumed {
		return nil, ErrStreamConsumed
	}
	s.consumed = true
	rc, err := s.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if cache {
		s.cached = data
	}
	return data, nil
}
