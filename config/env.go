// Package config loads configuration structs from environment variables,
// .env files and YAML files.
//
// Environment variable names follow the pattern:
//
//	{Prefix}_{STAGE}_{FIELD}
//
// Named nested structs add their field name as a path segment, embedded
// structs are flattened:
//
//	GOROUTE_RUN_CONTEXT_SEDA_CONCURRENT_CONSUMERS=4
//	GOROUTE_RUN_CONTEXT_ERROR_HANDLER_POLICY_MAXIMUM_REDELIVERIES=3
//
// Field names are converted from CamelCase to UPPER_SNAKE_CASE (URIPath
// becomes URI_PATH). Supported field types are string, bool, integers,
// floats, time.Duration, types implementing encoding.TextUnmarshaler and
// slices of these, given as comma-separated lists:
//
//	GOROUTE_RUN_CONTEXT_ERROR_HANDLER_POLICY_RETRYABLE_KINDS=transient,unknown
//
// Fields of other types are skipped.
package config

import (
	"encoding"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ErrInvalidTarget is returned when dst is not a pointer to a struct.
var ErrInvalidTarget = errors.New("config: dst must be a pointer to a struct")

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// DefaultPrefix is the environment variable prefix of the zero Loader.
const DefaultPrefix = "GOROUTE"

// Loader reads environment variables into configuration structs.
type Loader struct {
	// Prefix for environment variable names. Defaults to DefaultPrefix.
	Prefix string

	// lookup overrides os.LookupEnv in tests.
	lookup func(string) (string, bool)
}

func (l Loader) prefix() string {
	if l.Prefix == "" {
		return DefaultPrefix
	}
	return l.Prefix
}

func (l Loader) lookupEnv(key string) (string, bool) {
	if l.lookup != nil {
		return l.lookup(key)
	}
	return os.LookupEnv(key)
}

// Load overlays the environment variables that are set onto the struct
// pointed to by dst. stage becomes the second segment of the variable names.
// Fields without a variable keep their value.
func (l Loader) Load(stage string, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w, got %T", ErrInvalidTarget, dst)
	}
	return l.loadStruct(l.prefix()+"_"+normalizeStage(stage), v.Elem())
}

// Keys returns the variable names Load checks for dst, which may be a
// struct or a pointer to one.
func (l Loader) Keys(stage string, dst any) []string {
	v := reflect.ValueOf(dst)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return collectKeys(l.prefix()+"_"+normalizeStage(stage), v.Type())
}

// Load populates dst using the default Loader.
func Load(stage string, dst any) error {
	return Loader{}.Load(stage, dst)
}

// Keys returns variable names using the default Loader.
func Keys(stage string, dst any) []string {
	return Loader{}.Keys(stage, dst)
}

type fieldKind int

const (
	fieldSkip fieldKind = iota
	fieldValue
	fieldStruct
)

func classify(t reflect.Type) fieldKind {
	switch {
	case isScalar(t):
		return fieldValue
	case t.Kind() == reflect.Slice && isScalar(t.Elem()):
		return fieldValue
	case t.Kind() == reflect.Struct:
		return fieldStruct
	}
	return fieldSkip
}

func isScalar(t reflect.Type) bool {
	if t == durationType || reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// fieldKey returns the variable name of a field. Embedded structs share
// their parent's prefix.
func fieldKey(prefix string, f reflect.StructField) string {
	if f.Anonymous {
		return prefix
	}
	return prefix + "_" + toUpperSnake(f.Name)
}

func (l Loader) loadStruct(prefix string, v reflect.Value) error {
	t := v.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		fv := v.Field(i)

		// Promoted fields of unexported embedded structs are still settable.
		if !f.IsExported() && !(f.Anonymous && f.Type.Kind() == reflect.Struct) {
			continue
		}
		key := fieldKey(prefix, f)

		switch classify(f.Type) {
		case fieldStruct:
			if err := l.loadStruct(key, fv); err != nil {
				return err
			}
		case fieldValue:
			raw, ok := l.lookupEnv(key)
			if !ok {
				continue
			}
			if err := setValue(fv, raw); err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
		}
	}
	return nil
}

func collectKeys(prefix string, t reflect.Type) []string {
	var keys []string
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() && !(f.Anonymous && f.Type.Kind() == reflect.Struct) {
			continue
		}
		key := fieldKey(prefix, f)
		switch classify(f.Type) {
		case fieldStruct:
			keys = append(keys, collectKeys(key, f.Type)...)
		case fieldValue:
			keys = append(keys, key)
		}
	}
	return keys
}

func setValue(v reflect.Value, raw string) error {
	if v.Kind() == reflect.Slice && !v.Addr().Type().Implements(textUnmarshalerType) {
		var parts []string
		for p := range strings.SplitSeq(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		s := reflect.MakeSlice(v.Type(), len(parts), len(parts))
		for i, p := range parts {
			if err := setValue(s.Index(i), p); err != nil {
				return err
			}
		}
		v.Set(s)
		return nil
	}

	if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(raw))
	}
	if v.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	}
	return nil
}

// normalizeStage uppercases letters, maps '-', ' ' and '_' to '_' and
// drops everything else.
func normalizeStage(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(unicode.ToUpper(r))
		case r == '-' || r == ' ' || r == '_':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// toUpperSnake converts CamelCase to UPPER_SNAKE_CASE, keeping acronyms
// together: DeadLetterURI becomes DEAD_LETTER_URI.
func toUpperSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
