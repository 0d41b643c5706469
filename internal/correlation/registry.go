// Package correlation pairs outbound venue requests with the inbound
// messages that answer them.
package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Outcome labels how a request left the registry.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Observer is notified once per request when it leaves the registry.
type Observer interface {
	ObserveRequest(kind string, outcome Outcome, elapsed time.Duration)
}

type pending[T any] struct {
	items   []T
	fut     *Future[[]T]
	started time.Time
}

// Registry tracks in-flight requests of one kind (symbol search, contract
// details, option parameters). Items accumulate until the terminal message
// completes the request.
type Registry[T any] struct {
	kind string
	ids  *IDSource
	obs  Observer

	mu      sync.Mutex
	pending map[int64]*pending[T]
}

// NewRegistry creates a registry drawing ids from ids.
func NewRegistry[T any](kind string, ids *IDSource) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		ids:     ids,
		pending: make(map[int64]*pending[T]),
	}
}

// SetObserver installs a settle hook. Call before the registry is shared.
func (r *Registry[T]) SetObserver(obs Observer) {
	r.obs = obs
}

// Kind names the request type, used in logs and metrics.
func (r *Registry[T]) Kind() string { return r.kind }

// Begin allocates a request id and its future.
func (r *Registry[T]) Begin() (int64, *Future[[]T]) {
	id := r.ids.Next()
	p := &pending[T]{fut: NewFuture[[]T](), started: time.Now()}

	r.mu.Lock()
	r.pending[id] = p
	r.mu.Unlock()
	return id, p.fut
}

// AppendPartial adds one item to an open request. Unknown ids are ignored.
func (r *Registry[T]) AppendPartial(id int64, item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return false
	}
	p.items = append(p.items, item)
	return true
}

// Complete resolves the request with the items accumulated so far.
func (r *Registry[T]) Complete(id int64) bool {
	p := r.take(id)
	if p == nil {
		return false
	}
	items := p.items
	if items == nil {
		items = []T{}
	}
	p.fut.Resolve(items)
	r.observe(p, OutcomeCompleted)
	return true
}

// CompleteWith resolves a single-message request with items, appended to
// anything already accumulated.
func (r *Registry[T]) CompleteWith(id int64, items []T) bool {
	p := r.take(id)
	if p == nil {
		return false
	}
	out := make([]T, 0, len(p.items)+len(items))
	out = append(out, p.items...)
	out = append(out, items...)
	p.fut.Resolve(out)
	r.observe(p, OutcomeCompleted)
	return true
}

// Fail rejects the request with err and discards partial items.
func (r *Registry[T]) Fail(id int64, err error) bool {
	p := r.take(id)
	if p == nil {
		return false
	}
	p.fut.Reject(err)
	r.observe(p, OutcomeFailed)
	return true
}

// Cancel removes the request on the waiter's behalf. Messages arriving for
// it afterwards are dropped.
func (r *Registry[T]) Cancel(id int64) bool {
	p := r.take(id)
	if p == nil {
		return false
	}
	p.fut.Reject(ErrCancelled)
	r.observe(p, OutcomeCancelled)
	return true
}

// Owns reports whether id is an open request of this registry.
func (r *Registry[T]) Owns(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// Pending returns the number of open requests.
func (r *Registry[T]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// FailAll rejects every open request with err and returns how many there were.
func (r *Registry[T]) FailAll(err error) int {
	r.mu.Lock()
	all := r.pending
	r.pending = make(map[int64]*pending[T])
	r.mu.Unlock()

	for _, p := range all {
		p.fut.Reject(err)
		r.observe(p, OutcomeFailed)
	}
	return len(all)
}

func (r *Registry[T]) take(id int64) *pending[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return p
}

func (r *Registry[T]) observe(p *pending[T], outcome Outcome) {
	if r.obs != nil {
		r.obs.ObserveRequest(r.kind, outcome, time.Since(p.started))
	}
}

// Await waits for fut. When ctx ends first the request is cancelled in reg
// and the error wraps both ErrCancelled and the context error.
func Await[T any](ctx context.Context, reg *Registry[T], id int64, fut *Future[[]T]) ([]T, error) {
	items, err := fut.Wait(ctx)
	if err == nil {
		return items, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
		reg.Cancel(id)
		// The venue may have answered between the timeout and Cancel.
		if items, err := fut.Result(); err == nil {
			return items, nil
		}
		return nil, fmt.Errorf("%s request %d: %w: %w", reg.kind, id, ErrCancelled, ctxErr)
	}
	return nil, err
}
