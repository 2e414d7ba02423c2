// Package retry runs operations with exponential backoff.
//
// Do calls a function until it succeeds or the schedule in Config runs out. Errors
// wrapped with NonRetryable, or rejected by Config.Retryable, end the loop at once:
//
//	sock, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (transport.Transport, error) {
//	    return transport.ListenUDP(":9000", logger)
//	})
//
// Backoff sleeps honor ctx cancellation.
package retry
