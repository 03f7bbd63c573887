package exchange

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Pattern is the message exchange pattern of an Exchange.
type Pattern int

const (
	// InOnly is a one-way exchange; no reply is expected.
	InOnly Pattern = iota
	// InOut is a request-reply exchange; the reply is carried by the Out message.
	InOut
)

// String implements fmt.Stringer.
func (p Pattern) String() string {
	if p == InOut {
		return "InOut"
	}
	return "InOnly"
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pattern) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "inonly", "":
		*p = InOnly
	case "inout":
		*p = InOut
	default:
		return fmt.Errorf("exchange: unknown pattern %q", string(text))
	}
	return nil
}

// RedeliveryState is the retry progress of one error handler on an exchange.
// It lives on the exchange so it survives asynchronous suspension.
type RedeliveryState struct {
	// Count is the number of redeliveries performed so far.
	Count int
	// LastErr is the error of the most recent failed attempt.
	LastErr error
	// NextDelay is the delay computed for the pending redelivery.
	NextDelay time.Duration
}

// Exchange is one unit of work flowing through a route.
//
// Messages are not synchronized: the exchange is owned by one goroutine at a
// time and ownership moves at processor completion or queue hand-off.
// The exception, failure-handled flag and properties are guarded because a
// shutdown may mark an exchange from another goroutine.
type Exchange struct {
	id      string
	created time.Time
	pattern Pattern
	in      *Message
	out     *Message
	uow     *UnitOfWork

	mu             sync.Mutex
	properties     map[string]any
	err            error
	failureHandled bool
	redelivery     map[string]*RedeliveryState
}

// New creates an exchange with a fresh ID and Unit of Work.
// A nil in message is replaced by an empty one.
func New(pattern Pattern, in *Message) *Exchange {
	if in == nil {
		in = NewMessage(nil, nil)
	}
	return &Exchange{
		id:         NewID(),
		created:    time.Now(),
		pattern:    pattern,
		in:         in,
		uow:        newUnitOfWork(),
		properties: make(map[string]any),
	}
}

// ID returns the unique exchange ID.
func (e *Exchange) ID() string { return e.id }

// Created returns the creation time.
func (e *Exchange) Created() time.Time { return e.created }

// Pattern returns the exchange pattern.
func (e *Exchange) Pattern() Pattern { return e.pattern }

// SetPattern changes the exchange pattern.
func (e *Exchange) SetPattern(p Pattern) { e.pattern = p }

// In returns the request message.
func (e *Exchange) In() *Message { return e.in }

// SetIn replaces the request message.
func (e *Exchange) SetIn(m *Message) { e.in = m }

// Out returns the reply message, or nil if none was set.
func (e *Exchange) Out() *Message { return e.out }

// SetOut sets the reply message. Passing nil removes it.
func (e *Exchange) SetOut(m *Message) { e.out = m }

// HasOut reports whether a reply message is present.
func (e *Exchange) HasOut() bool { return e.out != nil }

// Result returns the Out message if present, otherwise In.
func (e *Exchange) Result() *Message {
	if e.out != nil {
		return e.out
	}
	return e.in
}

// UnitOfWork returns the Unit of Work of this exchange.
func (e *Exchange) UnitOfWork() *UnitOfWork { return e.uow }

// AddSynchronization registers s with the exchange's Unit of Work.
func (e *Exchange) AddSynchronization(s Synchronization) {
	e.uow.AddSynchronization(s)
}

// Property returns a property value.
func (e *Exchange) Property(name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.properties[name]
	return v, ok
}

// SetProperty sets a property value.
func (e *Exchange) SetProperty(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.properties[name] = value
}

// RemoveProperty removes a property and reports whether it was present.
func (e *Exchange) RemoveProperty(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.properties[name]
	delete(e.properties, name)
	return ok
}

// Properties returns a copy of all properties.
func (e *Exchange) Properties() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]any, len(e.properties))
	for k, v := range e.properties {
		out[k] = v
	}
	return out
}

// PropertyBool returns a boolean property, false if missing or not a bool.
func (e *Exchange) PropertyBool(name string) bool {
	v, _ := e.Property(name)
	b, _ := v.(bool)
	return b
}

// Err returns the recorded exception, or nil.
func (e *Exchange) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// SetErr records an exception. Passing nil clears it.
func (e *Exchange) SetErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Failed reports whether an exception is recorded.
func (e *Exchange) Failed() bool {
	return e.Err() != nil
}

// FailureHandled reports whether an error handler has disposed of a failure.
func (e *Exchange) FailureHandled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failureHandled
}

// SetFailureHandled sets the failure-handled flag.
func (e *Exchange) SetFailureHandled(handled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureHandled = handled
}

// Redelivery returns the redelivery state owned by the named error handler,
// creating it on first use.
func (e *Exchange) Redelivery(owner string) *RedeliveryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.redelivery == nil {
		e.redelivery = make(map[string]*RedeliveryState)
	}
	s, ok := e.redelivery[owner]
	if !ok {
		s = &RedeliveryState{}
		e.redelivery[owner] = s
	}
	return s
}

// Copy creates an exchange for a new branch: a fresh ID and Unit of Work,
// copied messages and properties, the same pattern and exception state.
func (e *Exchange) Copy() *Exchange {
	c := &Exchange{
		id:         NewID(),
		created:    time.Now(),
		pattern:    e.pattern,
		in:         e.in.Copy(),
		uow:        newUnitOfWork(),
		properties: e.Properties(),
	}
	if e.out != nil {
		c.out = e.out.Copy()
	}
	e.mu.Lock()
	c.err = e.err
	c.failureHandled = e.failureHandled
	e.mu.Unlock()
	return c
}

// String implements fmt.Stringer.
func (e *Exchange) String() string {
	return fmt.Sprintf("Exchange[%s]", e.id)
}
