package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/fxsml/goroute/exchange"
	"github.com/fxsml/goroute/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChoice_HeaderRouting(t *testing.T) {
	var trace []string
	p := Choice([]When{
		{Predicate: expr.HeaderEquals("x", "A"), Processor: record(&trace, "a")},
		{Predicate: expr.HeaderEquals("x", "B"), Processor: record(&trace, "b")},
	}, record(&trace, "other"))

	for _, x := range []string{"A", "B", "C"} {
		ex := exchange.New(exchange.InOnly, exchange.NewMessage(nil, map[string]any{"x": x}))
		require.NoError(t, Run(context.Background(), p, ex))
	}
	assert.Equal(t, []string{"a", "b", "other"}, trace)
}

func TestChoice_FirstMatchWins(t *testing.T) {
	var trace []string
	p := Choice([]When{
		{Predicate: expr.True(), Processor: record(&trace, "first")},
		{Predicate: expr.True(), Processor: record(&trace, "second")},
	}, nil)

	require.NoError(t, Run(context.Background(), p, newExchange(nil)))
	assert.Equal(t, []string{"first"}, trace)
}

func TestChoice_NoMatchPassesThrough(t *testing.T) {
	p := Choice([]When{{Predicate: expr.HeaderEquals("x", "A"), Processor: Stop()}}, nil)
	ex := newExchange("body")
	require.NoError(t, Run(context.Background(), p, ex))
	assert.False(t, ex.PropertyBool(exchange.PropertyRouteStop))
}

func TestChoice_PredicateError(t *testing.T) {
	boom := errors.New("boom")
	p := Choice([]When{{
		Predicate: func(*exchange.Exchange) (bool, error) { return false, boom },
		Processor: Stop(),
	}}, nil)
	assert.ErrorIs(t, Run(context.Background(), p, newExchange(nil)), boom)
}

func TestFilter(t *testing.T) {
	var trace []string
	p := Filter(expr.HeaderEquals("keep", true), record(&trace, "kept"))

	keep := exchange.New(exchange.InOnly, exchange.NewMessage(nil, map[string]any{"keep": true}))
	drop := newExchange(nil)
	require.NoError(t, Run(context.Background(), p, keep))
	require.NoError(t, Run(context.Background(), p, drop))

	assert.Equal(t, []string{"kept"}, trace)
	assert.True(t, keep.PropertyBool(exchange.PropertyFilterMatched))
	v, ok := drop.Property(exchange.PropertyFilterMatched)
	require.True(t, ok)
	assert.Equal(t, false, v)
}

func TestSetters(t *testing.T) {
	ex := exchange.New(exchange.InOnly, exchange.NewMessage("old", map[string]any{"gone": 1}))
	p := Pipeline(
		SetHeader("h", expr.Constant("v")),
		SetProperty("p", expr.Header("h")),
		SetBody(expr.Constant("new")),
		RemoveHeader("gone"),
	)

	require.NoError(t, Run(context.Background(), p, ex))
	assert.Equal(t, map[string]any{"h": "v"}, ex.In().Headers())
	v, _ := ex.Property("p")
	assert.Equal(t, "v", v)
	assert.Equal(t, "new", ex.In().Body())
}
