package endpoint

import (
	"encoding"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fxsml/goroute/exchange"
)

// ErrInvalidURI is returned for endpoint URIs that cannot be parsed.
var ErrInvalidURI = errors.New("endpoint: invalid uri")

// URI is a parsed endpoint URI "scheme:remaining?options".
// "scheme://remaining" is accepted as well.
type URI struct {
	Scheme    string
	Remaining string
	Params    *Params
}

// ParseURI parses raw. Errors are of kind exchange.KindConfiguration.
func ParseURI(raw string) (URI, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || scheme == "" {
		return URI{}, exchange.Configuration(fmt.Errorf("%w: %q has no scheme", ErrInvalidURI, raw))
	}
	rest = strings.TrimPrefix(rest, "//")
	remaining, query, _ := strings.Cut(rest, "?")
	values, err := url.ParseQuery(query)
	if err != nil {
		return URI{}, exchange.Configuration(fmt.Errorf("%w: %q: %w", ErrInvalidURI, raw, err))
	}
	return URI{
		Scheme:    strings.ToLower(scheme),
		Remaining: remaining,
		Params:    newParams(values),
	}, nil
}

// String returns the normalized URI with options in sorted order.
func (u URI) String() string {
	s := u.Scheme + ":" + u.Remaining
	if u.Params != nil && len(u.Params.values) > 0 {
		s += "?" + u.Params.values.Encode()
	}
	return s
}

// NormalizeURI parses and re-encodes raw so equal endpoints compare equal.
func NormalizeURI(raw string) (string, error) {
	u, err := ParseURI(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Params reads typed endpoint options. Read errors and options that were
// never read are collected and returned by Err.
type Params struct {
	values url.Values
	used   map[string]bool
	errs   []error
}

func newParams(values url.Values) *Params {
	return &Params{values: values, used: make(map[string]bool)}
}

// NewParams creates Params from option values.
func NewParams(values map[string]string) *Params {
	v := make(url.Values, len(values))
	for k, s := range values {
		v.Set(k, s)
	}
	return newParams(v)
}

func (p *Params) lookup(key string) (string, bool) {
	p.used[key] = true
	if !p.values.Has(key) {
		return "", false
	}
	return p.values.Get(key), true
}

func (p *Params) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("option %s=%q: %w", key, value, err))
}

// Has reports whether the option is set. It does not count as a read.
func (p *Params) Has(key string) bool {
	return p.values.Has(key)
}

// String returns the option value or def.
func (p *Params) String(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

// Int returns the option as an int or def.
func (p *Params) Int(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

// Bool returns the option as a bool or def.
func (p *Params) Bool(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

// Float returns the option as a float64 or def.
func (p *Params) Float(key string, def float64) float64 {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

// Duration returns the option as a duration or def. Plain integers are
// read as milliseconds.
func (p *Params) Duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

// Text decodes the option into target if present.
func (p *Params) Text(key string, target encoding.TextUnmarshaler) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	if err := target.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, v, err)
	}
}

// Err returns read errors and unknown options as a Configuration error.
func (p *Params) Err() error {
	errs := append([]error(nil), p.errs...)
	var unknown []string
	for k := range p.values {
		if !p.used[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		errs = append(errs, fmt.Errorf("unknown options %s", strings.Join(unknown, ", ")))
	}
	if len(errs) == 0 {
		return nil
	}
	return exchange.Configuration(fmt.Errorf("%w: %w", ErrInvalidURI, errors.Join(errs...)))
}
