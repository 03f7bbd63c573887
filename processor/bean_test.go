package processor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/fxsml/goroute/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	ID string
}

type orderService struct {
	calls []string
}

func (s *orderService) Handle(o order) string {
	s.calls = append(s.calls, "Handle")
	return "handled " + o.ID
}

func (s *orderService) Upper(ctx context.Context, text string) (string, error) {
	s.calls = append(s.calls, "Upper")
	if text == "" {
		return "", errors.New("empty")
	}
	return strings.ToUpper(text), nil
}

func (s *orderService) Touch(ex *exchange.Exchange) {
	s.calls = append(s.calls, "Touch")
	ex.In().SetHeader("touched", true)
}

// Unsupported signatures are ignored.
func (s *orderService) Variadic(xs ...int) {}

type ambiguous struct{}

func (ambiguous) A(fmt.Stringer) {}
func (ambiguous) B(fmt.Stringer) {}

type stringer string

func (s stringer) String() string { return string(s) }

func TestBean_ResolvesByBodyType(t *testing.T) {
	svc := &orderService{}
	p, err := Bean(svc, "")
	require.NoError(t, err)

	ex := newExchange(order{ID: "1"})
	require.NoError(t, Run(context.Background(), p, ex))
	assert.Equal(t, "handled 1", ex.In().Body())

	ex = newExchange("abc")
	require.NoError(t, Run(context.Background(), p, ex))
	assert.Equal(t, "ABC", ex.In().Body())

	ex = newExchange([]byte("xyz"))
	require.NoError(t, Run(context.Background(), p, ex))
	assert.Equal(t, "XYZ", ex.In().Body())

	ex = newExchange(42)
	require.NoError(t, Run(context.Background(), p, ex))
	v, _ := ex.In().Header("touched")
	assert.Equal(t, true, v)

	assert.Equal(t, []string{"Handle", "Upper", "Upper", "Touch"}, svc.calls)
}

func TestBean_ExplicitMethod(t *testing.T) {
	svc := &orderService{}
	p, err := Bean(svc, "Touch")
	require.NoError(t, err)

	ex := newExchange(order{ID: "1"})
	require.NoError(t, Run(context.Background(), p, ex))
	assert.Equal(t, []string{"Touch"}, svc.calls)
	assert.Equal(t, order{ID: "1"}, ex.In().Body())
}

func TestBean_ExplicitMethodMissingIsConfigurationError(t *testing.T) {
	_, err := Bean(&orderService{}, "Missing")
	assert.ErrorIs(t, err, ErrNoMatchingMethod)
	assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))

	_, err = Bean(&orderService{}, "Variadic")
	assert.ErrorIs(t, err, ErrNoMatchingMethod)

	_, err = Bean(nil, "")
	assert.ErrorIs(t, err, ErrInvalidBean)
}

func TestBean_Ambiguous(t *testing.T) {
	p, err := Bean(ambiguous{}, "")
	require.NoError(t, err)

	ex := newExchange(stringer("x"))
	err = Run(context.Background(), p, ex)
	assert.ErrorIs(t, err, ErrAmbiguousMethod)
	assert.Equal(t, exchange.KindPermanent, exchange.KindOf(err))
}

func TestBean_NoMatch(t *testing.T) {
	p, err := Bean(ambiguous{}, "")
	require.NoError(t, err)

	err = Run(context.Background(), p, newExchange(42))
	assert.ErrorIs(t, err, ErrNoMatchingMethod)
}

func TestBean_ErrorAndOutMessage(t *testing.T) {
	p, err := Bean(&orderService{}, "Upper")
	require.NoError(t, err)

	ex := exchange.New(exchange.InOut, exchange.NewMessage("abc", map[string]any{"h": 1}))
	require.NoError(t, Run(context.Background(), p, ex))
	require.True(t, ex.HasOut())
	assert.Equal(t, "ABC", ex.Out().Body())
	h, _ := ex.Out().Header("h")
	assert.Equal(t, 1, h)
	assert.Equal(t, "abc", ex.In().Body())

	ex = newExchange("")
	assert.EqualError(t, Run(context.Background(), p, ex), "empty")
}

func TestBean_CachesResolution(t *testing.T) {
	b := &bean{typ: reflect.TypeOf(&orderService{})}
	svc := reflect.ValueOf(&orderService{})
	for i := range svc.NumMethod() {
		if m, ok := inspect(b.typ.Method(i).Name, svc.Method(i)); ok {
			b.methods = append(b.methods, m)
		}
	}

	m, err := b.resolve(reflect.TypeOf(order{}))
	require.NoError(t, err)
	assert.Equal(t, "Handle", m.name)

	cached, ok := b.cache.Load(reflect.TypeOf(order{}))
	require.True(t, ok)
	assert.Same(t, m, cached.(resolution).method)

	// a nil body only matches methods that take the exchange
	m, err = b.resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "Touch", m.name)
	_, ok = b.cache.Load(reflect.Type(nil))
	assert.True(t, ok)
}
