// Package expr provides expressions and predicates evaluated against an exchange.
package expr

import (
	"fmt"
	"reflect"

	"github.com/fxsml/goroute/exchange"
)

// Expression evaluates a value from an exchange.
type Expression func(ex *exchange.Exchange) (any, error)

// Predicate evaluates a condition against an exchange.
type Predicate func(ex *exchange.Exchange) (bool, error)

// Header returns the value of the named In header, or nil when it is missing.
func Header(name string) Expression {
	return func(ex *exchange.Exchange) (any, error) {
		v, _ := ex.In().Header(name)
		return v, nil
	}
}

// Property returns the value of the named exchange property, or nil.
func Property(name string) Expression {
	return func(ex *exchange.Exchange) (any, error) {
		v, _ := ex.Property(name)
		return v, nil
	}
}

// Body returns the In body as set.
func Body() Expression {
	return func(ex *exchange.Exchange) (any, error) {
		return ex.In().Body(), nil
	}
}

// BodyString materializes the In body as a string.
func BodyString() Expression {
	return func(ex *exchange.Exchange) (any, error) {
		return ex.In().BodyString()
	}
}

// Constant always returns v.
func Constant(v any) Expression {
	return func(*exchange.Exchange) (any, error) {
		return v, nil
	}
}

// Func adapts an infallible function to an Expression.
func Func(fn func(ex *exchange.Exchange) any) Expression {
	return func(ex *exchange.Exchange) (any, error) {
		return fn(ex), nil
	}
}

// String evaluates e and formats the result. A nil result yields an empty string.
func String(ex *exchange.Exchange, e Expression) (string, error) {
	v, err := e(ex)
	if err != nil || v == nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return fmt.Sprint(v), nil
}

// Equals matches when e evaluates to a value equal to want.
// Strings and byte slices compare by content; other values by reflect.DeepEqual.
func Equals(e Expression, want any) Predicate {
	return func(ex *exchange.Exchange) (bool, error) {
		v, err := e(ex)
		if err != nil {
			return false, err
		}
		return equal(v, want), nil
	}
}

// HeaderEquals is shorthand for Equals(Header(name), want).
func HeaderEquals(name string, want any) Predicate {
	return Equals(Header(name), want)
}

// Exists matches when e evaluates to a non-nil value.
func Exists(e Expression) Predicate {
	return func(ex *exchange.Exchange) (bool, error) {
		v, err := e(ex)
		return v != nil, err
	}
}

// Not negates p.
func Not(p Predicate) Predicate {
	return func(ex *exchange.Exchange) (bool, error) {
		ok, err := p(ex)
		return !ok && err == nil, err
	}
}

// And matches when all predicates match. Evaluation stops at the first miss.
func And(ps ...Predicate) Predicate {
	return func(ex *exchange.Exchange) (bool, error) {
		for _, p := range ps {
			ok, err := p(ex)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Or matches when any predicate matches. Evaluation stops at the first hit.
func Or(ps ...Predicate) Predicate {
	return func(ex *exchange.Exchange) (bool, error) {
		for _, p := range ps {
			ok, err := p(ex)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// True always matches.
func True() Predicate {
	return func(*exchange.Exchange) (bool, error) { return true, nil }
}

func equal(a, b any) bool {
	if as, ok := text(a); ok {
		if bs, ok := text(b); ok {
			return as == bs
		}
	}
	return reflect.DeepEqual(a, b)
}

func text(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}
