package store

import (
	"context"
	"log/slog"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/event"
	"github.com/c360/tuplestreams/filter"
	"github.com/c360/tuplestreams/metric"
	"github.com/c360/tuplestreams/tuple"
)

// Handler answers store requests from a Store:
//
//	WriteRequest  -> OutputResponse
//	ReadRequest   -> InputResponse with the first match (nil when nothing matches), or
//	                 InputByIDResponse for id-only reads
//	QueryRequest  -> QueryResponse
//	DeleteRequest -> InputResponse carrying the deleted tuple
//
// A read against a store does not wait: it answers from what is stored now. Any other
// request fails with errors.ErrUnsupported.
type Handler struct {
	store  Store
	core   *metric.Metrics
	logger *slog.Logger
}

// NewHandler wraps s. registry and logger may be nil.
func NewHandler(s Store, registry *metric.MetricsRegistry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		store:  s,
		logger: logger.With("component", "store", "backend", s.Backend()),
	}
	if registry != nil {
		h.core = registry.CoreMetrics()
	}
	return h
}

// Store returns the wrapped store.
func (h *Handler) Store() Store { return h.store }

// Handle answers req on its source. The returned error is the one sent in an
// ExceptionalResponse, or nil on success.
func (h *Handler) Handle(ctx context.Context, req event.Request) error {
	err := h.handle(ctx, req)
	if err != nil {
		req.Fail(err)
		h.logger.Debug("Store request failed", "kind", req.Kind(), "request_id", req.RequestID(), "error", err)
	}
	if h.core != nil {
		h.core.RecordRequest(req.Kind(), err)
	}
	return err
}

func (h *Handler) handle(ctx context.Context, req event.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	switch r := req.(type) {
	case *event.WriteRequest:
		if err := h.record("write", h.store.Write(ctx, r.Tuple)); err != nil {
			return err
		}
		r.Reply(&event.OutputResponse{})
		return nil

	case *event.ReadRequest:
		matches, err := h.query(ctx, r.Query)
		if err != nil {
			return err
		}
		switch {
		case len(matches) == 0:
			r.Reply(&event.InputResponse{})
		case r.IDOnly:
			r.Reply(&event.InputByIDResponse{TupleID: matches[0].ID()})
		default:
			r.Reply(&event.InputResponse{Tuple: matches[0]})
		}
		return nil

	case *event.QueryRequest:
		matches, err := h.query(ctx, r.Query)
		if err != nil {
			return err
		}
		resp := &event.QueryResponse{}
		if r.IDOnly {
			resp.IDs = make([]tuple.ID, len(matches))
			for i, t := range matches {
				resp.IDs[i] = t.ID()
			}
		} else {
			resp.Tuples = matches
		}
		r.Reply(resp)
		return nil

	case *event.DeleteRequest:
		t, err := h.store.Delete(ctx, r.TupleID)
		if err := h.record("delete", err); err != nil {
			return err
		}
		r.Reply(&event.InputResponse{Tuple: t})
		return nil

	default:
		return errors.Unsupportedf("store", "Handler.Handle", "%s requests", req.Kind())
	}
}

func (h *Handler) query(ctx context.Context, q *tuple.Query) ([]*tuple.Tuple, error) {
	f, err := filter.Compile(q)
	if err != nil {
		return nil, err
	}
	matches, err := h.store.Query(ctx, f)
	return matches, h.record("query", err)
}

func (h *Handler) record(op string, err error) error {
	if h.core != nil {
		h.core.RecordStoreOperation(h.store.Backend(), op, err)
	}
	return err
}
