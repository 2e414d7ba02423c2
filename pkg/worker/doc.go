// Package worker provides a bounded worker pool.
//
// Channels hand received tuples to a Pool so slow result handlers never stall the
// socket read loop:
//
//	pool, err := worker.NewPool(4, 256, func(ctx context.Context, t *tuple.Tuple) error {
//	    _, err := registry.TupleArrived(ctx, t)
//	    return err
//	}, worker.WithMetricsRegistry[*tuple.Tuple](registry, "udp-in"))
//
// Submit never blocks. A full queue drops the item and returns ErrQueueFull, which the
// caller counts as a dropped datagram.
//
// Stop closes the queue and waits for the workers to drain it. Canceling the context
// passed to Start makes workers exit without draining.
package worker
