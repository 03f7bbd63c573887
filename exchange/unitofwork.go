package exchange

import (
	"log/slog"
	"sync"
)

// Synchronization is a completion callback registered on a Unit of Work.
// Exactly one of the methods is called, once, after the exchange has finished.
type Synchronization interface {
	// OnComplete is called when the exchange succeeded or its failure was handled.
	OnComplete(ex *Exchange)
	// OnFailure is called when the exchange finished with an unhandled exception.
	OnFailure(ex *Exchange)
}

// SynchronizationFuncs adapts functions to Synchronization. Nil funcs are skipped.
type SynchronizationFuncs struct {
	Complete func(ex *Exchange)
	Failure  func(ex *Exchange)
}

// OnComplete implements Synchronization.
func (s SynchronizationFuncs) OnComplete(ex *Exchange) {
	if s.Complete != nil {
		s.Complete(ex)
	}
}

// OnFailure implements Synchronization.
func (s SynchronizationFuncs) OnFailure(ex *Exchange) {
	if s.Failure != nil {
		s.Failure(ex)
	}
}

// UnitOfWork tracks the completion of one exchange traversal and fires its
// synchronizations exactly once. It is safe for concurrent use: when several
// asynchronous branches race to finish, only the first Done call fires.
type UnitOfWork struct {
	mu     sync.Mutex
	syncs  []Synchronization
	begun  bool
	done   bool
	failed bool
	ex     *Exchange
	doneCh chan struct{}
}

func newUnitOfWork() *UnitOfWork {
	return &UnitOfWork{doneCh: make(chan struct{})}
}

// Begin claims the Unit of Work for the caller and reports whether the claim
// succeeded. Nested routes that receive an already claimed exchange must not
// call Done.
func (u *UnitOfWork) Begin() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.begun {
		return false
	}
	u.begun = true
	return true
}

// AddSynchronization registers s. Synchronizations added after Done fire
// immediately with the final outcome.
func (u *UnitOfWork) AddSynchronization(s Synchronization) {
	u.mu.Lock()
	if !u.done {
		u.syncs = append(u.syncs, s)
		u.mu.Unlock()
		return
	}
	ex, failed := u.ex, u.failed
	u.mu.Unlock()
	fire(s, ex, failed)
}

// Done fires all synchronizations in registration order and reports whether
// this call fired them. OnFailure is used when ex carries an exception that
// was not handled, OnComplete otherwise.
func (u *UnitOfWork) Done(ex *Exchange) bool {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return false
	}
	u.done = true
	u.ex = ex
	u.failed = ex.Err() != nil && !ex.FailureHandled()
	syncs := u.syncs
	u.syncs = nil
	failed := u.failed
	done := u.doneCh
	u.mu.Unlock()

	// Ensure the done channel closes even if a callback misbehaves
	defer close(done)

	// Callbacks run outside the mutex so they may register further work
	for _, s := range syncs {
		fire(s, ex, failed)
	}
	return true
}

// IsDone reports whether Done has fired.
func (u *UnitOfWork) IsDone() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.done
}

// Completed returns a channel closed after all synchronizations have fired.
func (u *UnitOfWork) Completed() <-chan struct{} {
	return u.doneCh
}

func fire(s Synchronization, ex *Exchange, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("synchronization panicked", "exchangeId", ex.ID(), "panic", r)
		}
	}()
	if failed {
		s.OnFailure(ex)
		return
	}
	s.OnComplete(ex)
}
