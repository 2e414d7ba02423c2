package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/event"
	"github.com/c360/tuplestreams/tuple"
)

// Requester accepts requests. Channels and bindings implement it.
type Requester interface {
	Handle(ctx context.Context, req event.Request)
}

// Recorder writes every tuple a channel delivers to a store. It keeps one listen pending
// on the channel and replaces it at half its granted lease, so recording does not stop
// when a lease runs out. Tuples delivered to both listens while they overlap are written
// twice, which the store absorbs because writes replace by ID.
type Recorder struct {
	target   Requester
	handler  *Handler
	query    *tuple.Query
	duration time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	current event.ID
	renew   *time.Timer
	started bool
	stopped bool
	done    chan struct{}
}

var _ event.Handler = (*Recorder)(nil)

// NewRecorder records tuples matching query from target into handler's store. A nil query
// records everything.
func NewRecorder(target Requester, handler *Handler, query *tuple.Query, duration time.Duration, logger *slog.Logger) (*Recorder, error) {
	if target == nil || handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Recorder", "NewRecorder", "target and handler are required")
	}
	if duration <= 0 {
		return nil, errors.Validationf("store", "NewRecorder", "listen duration must be positive, got %v", duration)
	}
	if query == nil {
		query = tuple.Empty()
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		target:   target,
		handler:  handler,
		query:    query,
		duration: duration,
		logger:   logger.With("component", "recorder"),
		done:     make(chan struct{}),
	}, nil
}

// Start places the first listen. The recorder runs until Stop, ctx ends or the target is
// revoked. A second Start is a no-op; Start after Stop fails with ErrRevoked.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return errors.Revoked("store", "Recorder.Start")
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	go func() {
		select {
		case <-r.ctx.Done():
			r.Stop()
		case <-r.done:
		}
	}()
	r.listen()
	return nil
}

// Done is closed once the recorder stops.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) listen() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	ctx := r.ctx
	r.mu.Unlock()

	r.target.Handle(ctx, &event.ListenRequest{
		Header:   event.Header{ID: event.NewID(), Source: r},
		Query:    r.query,
		Duration: r.duration,
	})
}

func (r *Recorder) remove(id event.ID) {
	r.target.Handle(context.Background(), &event.RemoveRequest{
		Header: event.Header{ID: event.NewID(), Source: r},
		Target: id,
	})
}

// Handle receives the channel's responses.
func (r *Recorder) Handle(resp event.Response) {
	switch v := resp.(type) {
	case *event.InputResponse:
		if v.Tuple == nil {
			return
		}
		r.mu.Lock()
		ctx := r.ctx
		r.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		_ = r.handler.Handle(ctx, &event.WriteRequest{
			Header: event.Header{ID: event.NewID()},
			Tuple:  v.Tuple,
		})

	case *event.ListenResponse:
		id := v.Correlated().RequestID
		granted := v.Duration
		if granted <= 0 {
			granted = r.duration
		}

		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			r.remove(id)
			return
		}
		previous := r.current
		r.current = id
		if r.renew != nil {
			r.renew.Stop()
		}
		r.renew = time.AfterFunc(granted/2, r.listen)
		r.mu.Unlock()

		if previous != (event.ID{}) {
			r.remove(previous)
		}
		r.logger.Debug("Listen placed", "request_id", id, "granted", granted)

	case *event.ExceptionalResponse:
		if errors.Is(v.Err, errors.ErrRevoked) {
			r.logger.Info("Recording target revoked")
			r.Stop()
			return
		}
		r.logger.Warn("Listen failed", "request_id", v.Correlated().RequestID, "error", v.Err)
	}
}

// Stop withdraws the pending listen. It is idempotent.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	if r.renew != nil {
		r.renew.Stop()
	}
	current := r.current
	r.current = event.ID{}
	cancel := r.cancel
	r.mu.Unlock()

	if current != (event.ID{}) {
		r.remove(current)
	}
	if cancel != nil {
		cancel()
	}
	close(r.done)
}
