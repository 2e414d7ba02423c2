// Package event defines the request and response messages exchanged with channels,
// pending-request registries and tuple stores.
//
// Requests and responses are closed sets: the unexported marker methods keep other
// packages from adding variants, so a type switch with a default branch covers every
// case and the default branch is the "unhandled request" path.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/lease"
	"github.com/c360/tuplestreams/tuple"
)

// ID identifies a request. Responses echo it.
type ID = uuid.UUID

// NewID returns a fresh request ID.
func NewID() ID { return uuid.New() }

// Handler receives responses.
type Handler interface {
	Handle(resp Response)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(resp Response)

// Handle calls f(resp).
func (f HandlerFunc) Handle(resp Response) { f(resp) }

// Header carries the fields every request shares: its identity, where responses go and
// an opaque closure echoed back for correlation.
type Header struct {
	ID      ID
	Source  Handler
	Closure any
}

// RequestID returns the request's ID.
func (h Header) RequestID() ID { return h.ID }

// Reply correlates resp with the request and sends it to the source. A request without
// a source discards responses.
func (h Header) Reply(resp Response) {
	resp.correlate(h)
	if h.Source != nil {
		h.Source.Handle(resp)
	}
}

// Fail replies with an ExceptionalResponse.
func (h Header) Fail(err error) {
	h.Reply(&ExceptionalResponse{Err: err})
}

func (h Header) validate(method string) error {
	if h.ID == uuid.Nil {
		return errors.Validationf("event", method, "request id is nil")
	}
	return nil
}

// Request is implemented by every request type in this package.
type Request interface {
	RequestID() ID
	Reply(resp Response)
	Fail(err error)
	Validate() error
	Kind() string
	isRequest()
}

// ReadRequest asks for the first tuple matching Query. Timeout bounds how long the request
// stays pending.
type ReadRequest struct {
	Header
	Query   *tuple.Query
	Timeout time.Duration
	IDOnly  bool
}

// ListenRequest asks for every tuple matching Query for the lease Duration.
type ListenRequest struct {
	Header
	Query    *tuple.Query
	Duration time.Duration
	IDOnly   bool
}

// QueryRequest asks a store for every stored tuple matching Query.
type QueryRequest struct {
	Header
	Query  *tuple.Query
	IDOnly bool
}

// RemoveRequest withdraws the pending request identified by Target.
type RemoveRequest struct {
	Header
	Target ID
}

// OutputRequest sends a tuple over a channel.
type OutputRequest struct {
	Header
	Tuple *tuple.Tuple
}

// WriteRequest stores a tuple.
type WriteRequest struct {
	Header
	Tuple *tuple.Tuple
}

// DeleteRequest removes a stored tuple.
type DeleteRequest struct {
	Header
	TupleID tuple.ID
}

func (*ReadRequest) isRequest()   {}
func (*ListenRequest) isRequest() {}
func (*QueryRequest) isRequest()  {}
func (*RemoveRequest) isRequest() {}
func (*OutputRequest) isRequest() {}
func (*WriteRequest) isRequest()  {}
func (*DeleteRequest) isRequest() {}

// Kind names the request type for logs and metrics.
func (*ReadRequest) Kind() string   { return "read" }
func (*ListenRequest) Kind() string { return "listen" }
func (*QueryRequest) Kind() string  { return "query" }
func (*RemoveRequest) Kind() string { return "remove" }
func (*OutputRequest) Kind() string { return "output" }
func (*WriteRequest) Kind() string  { return "write" }
func (*DeleteRequest) Kind() string { return "delete" }

// Validate checks the request before it is accepted.
func (r *ReadRequest) Validate() error {
	if err := r.validate("ReadRequest.Validate"); err != nil {
		return err
	}
	if r.Timeout <= 0 {
		return errors.Validationf("event", "ReadRequest.Validate", "timeout must be positive, got %v", r.Timeout)
	}
	return r.Query.Validate()
}

// Validate checks the request before it is accepted.
func (r *ListenRequest) Validate() error {
	if err := r.validate("ListenRequest.Validate"); err != nil {
		return err
	}
	if r.Duration <= 0 {
		return errors.Validationf("event", "ListenRequest.Validate", "duration must be positive, got %v", r.Duration)
	}
	return r.Query.Validate()
}

// Validate checks the request before it is accepted.
func (r *QueryRequest) Validate() error {
	if err := r.validate("QueryRequest.Validate"); err != nil {
		return err
	}
	return r.Query.Validate()
}

// Validate checks the request before it is accepted.
func (r *RemoveRequest) Validate() error {
	if err := r.validate("RemoveRequest.Validate"); err != nil {
		return err
	}
	if r.Target == uuid.Nil {
		return errors.Validationf("event", "RemoveRequest.Validate", "target id is nil")
	}
	return nil
}

// Validate checks the request before it is accepted.
func (r *OutputRequest) Validate() error {
	if err := r.validate("OutputRequest.Validate"); err != nil {
		return err
	}
	if r.Tuple == nil {
		return errors.Validationf("event", "OutputRequest.Validate", "nil tuple")
	}
	return nil
}

// Validate checks the request before it is accepted.
func (r *WriteRequest) Validate() error {
	if err := r.validate("WriteRequest.Validate"); err != nil {
		return err
	}
	if r.Tuple == nil {
		return errors.Validationf("event", "WriteRequest.Validate", "nil tuple")
	}
	return nil
}

// Validate checks the request before it is accepted.
func (r *DeleteRequest) Validate() error {
	if err := r.validate("DeleteRequest.Validate"); err != nil {
		return err
	}
	if r.TupleID == uuid.Nil {
		return errors.Validationf("event", "DeleteRequest.Validate", "tuple id is nil")
	}
	return nil
}

// Correlation identifies the request a response answers.
type Correlation struct {
	RequestID ID
	Closure   any
}

// Correlated returns the correlation data.
func (c Correlation) Correlated() Correlation { return c }

func (c *Correlation) correlate(h Header) {
	c.RequestID = h.ID
	c.Closure = h.Closure
}

// Response is implemented by every response type in this package.
type Response interface {
	Correlated() Correlation
	correlate(h Header)
	isResponse()
}

// InputResponse delivers a matching tuple. A nil Tuple means the read expired with no
// result.
type InputResponse struct {
	Correlation
	Tuple *tuple.Tuple
}

// InputByIDResponse delivers only the ID of a matching tuple.
type InputByIDResponse struct {
	Correlation
	TupleID tuple.ID
}

// ListenResponse acknowledges a listen request once its lease is granted.
type ListenResponse struct {
	Correlation
	Lease    lease.Lease
	Duration time.Duration
}

// RemoveResponse acknowledges a remove request. Removed is false when nothing was pending
// under the target ID.
type RemoveResponse struct {
	Correlation
	Removed bool
}

// OutputResponse acknowledges a sent or stored tuple.
type OutputResponse struct {
	Correlation
}

// QueryResponse carries every stored tuple matching a query. IDs is filled instead of
// Tuples for id-only queries.
type QueryResponse struct {
	Correlation
	Tuples []*tuple.Tuple
	IDs    []tuple.ID
}

// ExceptionalResponse reports a failed request.
type ExceptionalResponse struct {
	Correlation
	Err error
}

func (*InputResponse) isResponse()       {}
func (*InputByIDResponse) isResponse()   {}
func (*ListenResponse) isResponse()      {}
func (*RemoveResponse) isResponse()      {}
func (*OutputResponse) isResponse()      {}
func (*QueryResponse) isResponse()       {}
func (*ExceptionalResponse) isResponse() {}
