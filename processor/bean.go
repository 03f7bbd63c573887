package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/fxsml/goroute/exchange"
)

var (
	// ErrNoMatchingMethod is returned when no bean method accepts the exchange.
	ErrNoMatchingMethod = errors.New("processor: no matching bean method")
	// ErrAmbiguousMethod is returned when several bean methods match equally well.
	ErrAmbiguousMethod = errors.New("processor: ambiguous bean method")
	// ErrInvalidBean is returned for a nil bean.
	ErrInvalidBean = errors.New("processor: invalid bean")
)

var (
	contextType  = reflect.TypeFor[context.Context]()
	exchangeType = reflect.TypeFor[*exchange.Exchange]()
	errorType    = reflect.TypeFor[error]()
	stringType   = reflect.TypeFor[string]()
	bytesType    = reflect.TypeFor[[]byte]()
	readerType   = reflect.TypeFor[io.Reader]()
	streamType   = reflect.TypeFor[*exchange.StreamBody]()
)

type argKind int

const (
	argNone argKind = iota
	argBody
	argCtxBody
	argExchange
	argCtxExchange
)

type beanMethod struct {
	name     string
	fn       reflect.Value
	args     argKind
	body     reflect.Type
	hasValue bool
	hasErr   bool
}

type resolution struct {
	method *beanMethod
	err    error
}

type bean struct {
	typ      reflect.Type
	methods  []*beanMethod
	explicit *beanMethod
	cache    sync.Map // reflect.Type -> resolution
}

// Bean invokes a method of v for each exchange.
//
// With a method name the named method is always used; a missing name or an
// unsupported signature is a Configuration error. Without a name, the method
// is chosen per body type: an exact parameter type match wins over an
// assignable one, then over string/[]byte conversion, then over methods
// taking the *exchange.Exchange, then over a single method without
// arguments. More than one candidate in the winning group fails with
// ErrAmbiguousMethod. Resolutions are cached per body type.
//
// Supported parameters are (), (body), (ctx, body), (*Exchange) and
// (ctx, *Exchange). Supported results are (), (value), (error) and
// (value, error). A non-nil value becomes the Out body of an InOut exchange,
// carrying the In headers, or replaces the In body otherwise.
func Bean(v any, method string) (Processor, error) {
	if v == nil {
		return nil, exchange.Configuration(ErrInvalidBean)
	}
	rv := reflect.ValueOf(v)
	b := &bean{typ: rv.Type()}
	for i := range rv.NumMethod() {
		m, ok := inspect(b.typ.Method(i).Name, rv.Method(i))
		if !ok {
			continue
		}
		if method != "" && m.name == method {
			b.explicit = m
		}
		b.methods = append(b.methods, m)
	}

	switch {
	case method != "" && b.explicit == nil:
		return nil, exchange.Configuration(fmt.Errorf("%w: %s has no usable method %q", ErrNoMatchingMethod, b.typ, method))
	case len(b.methods) == 0:
		return nil, exchange.Configuration(fmt.Errorf("%w: %s has no usable methods", ErrNoMatchingMethod, b.typ))
	}
	return Func(b.process), nil
}

func inspect(name string, fn reflect.Value) (*beanMethod, bool) {
	t := fn.Type()
	if t.IsVariadic() {
		return nil, false
	}
	m := &beanMethod{name: name, fn: fn}

	switch t.NumIn() {
	case 0:
		m.args = argNone
	case 1:
		switch t.In(0) {
		case exchangeType:
			m.args = argExchange
		case contextType:
			return nil, false
		default:
			m.args, m.body = argBody, t.In(0)
		}
	case 2:
		if t.In(0) != contextType {
			return nil, false
		}
		if t.In(1) == exchangeType {
			m.args = argCtxExchange
		} else {
			m.args, m.body = argCtxBody, t.In(1)
		}
	default:
		return nil, false
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			m.hasErr = true
		} else {
			m.hasValue = true
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, false
		}
		m.hasValue, m.hasErr = true, true
	default:
		return nil, false
	}
	return m, true
}

func (b *bean) resolve(bt reflect.Type) (*beanMethod, error) {
	if b.explicit != nil {
		return b.explicit, nil
	}
	if r, ok := b.cache.Load(bt); ok {
		res := r.(resolution)
		return res.method, res.err
	}
	m, err := b.match(bt)
	b.cache.Store(bt, resolution{method: m, err: err})
	return m, err
}

func (b *bean) match(bt reflect.Type) (*beanMethod, error) {
	var exact, assignable, convertible, exchanges, none []*beanMethod
	for _, m := range b.methods {
		switch m.args {
		case argBody, argCtxBody:
			switch {
			case bt == nil:
			case m.body == bt:
				exact = append(exact, m)
			case bt.AssignableTo(m.body):
				assignable = append(assignable, m)
			case textual(bt) && (m.body == stringType || m.body == bytesType):
				convertible = append(convertible, m)
			}
		case argExchange, argCtxExchange:
			exchanges = append(exchanges, m)
		default:
			none = append(none, m)
		}
	}

	for _, group := range [][]*beanMethod{exact, assignable, convertible, exchanges, none} {
		switch len(group) {
		case 0:
			continue
		case 1:
			return group[0], nil
		default:
			names := make([]string, len(group))
			for i, m := range group {
				names[i] = m.name
			}
			return nil, fmt.Errorf("%w: %s methods [%s] all accept %v",
				ErrAmbiguousMethod, b.typ, strings.Join(names, ", "), bt)
		}
	}
	return nil, fmt.Errorf("%w: %s has no method accepting %v", ErrNoMatchingMethod, b.typ, bt)
}

func textual(t reflect.Type) bool {
	return t == stringType || t == bytesType || t == streamType || t.Implements(readerType)
}

func (b *bean) process(ctx context.Context, ex *exchange.Exchange) error {
	body := ex.In().Body()
	m, err := b.resolve(reflect.TypeOf(body))
	if err != nil {
		return exchange.Permanent(err)
	}

	var args []reflect.Value
	switch m.args {
	case argBody, argCtxBody:
		arg, err := bodyArg(ex.In(), m.body)
		if err != nil {
			return exchange.Permanent(fmt.Errorf("%w: %s.%s: %w", ErrNoMatchingMethod, b.typ, m.name, err))
		}
		if m.args == argCtxBody {
			args = append(args, reflect.ValueOf(&ctx).Elem())
		}
		args = append(args, arg)
	case argExchange:
		args = append(args, reflect.ValueOf(ex))
	case argCtxExchange:
		args = append(args, reflect.ValueOf(&ctx).Elem(), reflect.ValueOf(ex))
	}

	out := m.fn.Call(args)
	if m.hasErr {
		if e := out[len(out)-1]; !e.IsNil() {
			return e.Interface().(error)
		}
	}
	if m.hasValue && !isNil(out[0]) {
		setResult(ex, out[0].Interface())
	}
	return nil
}

func bodyArg(msg *exchange.Message, want reflect.Type) (reflect.Value, error) {
	body := msg.Body()
	if body == nil {
		return reflect.Zero(want), nil
	}
	v := reflect.ValueOf(body)
	if v.Type().AssignableTo(want) {
		return v, nil
	}
	switch want {
	case stringType:
		s, err := msg.BodyString()
		return reflect.ValueOf(s), err
	case bytesType:
		data, err := msg.BodyBytes()
		return reflect.ValueOf(data), err
	}
	return reflect.Value{}, fmt.Errorf("body of type %T is not assignable to %v", body, want)
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	}
	return false
}
