package registry

import (
	"context"
	"log"
	"time"
)

// ResolveNativeID waits for the terminal-assigned order id after submission.
// It polls the registry's cache first and then the backend's live order list
// matched by tag, at pollInterval up to timeout. A timeout is not a placement
// failure: the order may well be live, only its native id is unconfirmed, so
// the result is whatever is known (possibly empty) and a warning is logged.
//
// Backend errors during polling are swallowed and retried until the deadline.
// Must never be called from the monitoring loop.
func (r *Registry) ResolveNativeID(ctx context.Context, account, clientID string, pollInterval, timeout time.Duration) string {
	if pollInterval <= 0 {
		pollInterval = 25 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if id := r.NativeID(clientID); id != "" {
			return id
		}

		orders, err := r.adapter.ActiveOrders(ctx, account)
		if err == nil {
			for _, o := range orders {
				if o.Tag == clientID && o.NativeID != "" {
					r.setNativeID(clientID, o.NativeID)
					return o.NativeID
				}
			}
		}

		if time.Now().After(deadline) {
			log.Printf("registry: native id for %s not confirmed within %v", clientID, timeout)
			return r.NativeID(clientID)
		}

		select {
		case <-ctx.Done():
			return r.NativeID(clientID)
		case <-r.shutdown:
			return r.NativeID(clientID)
		case <-ticker.C:
		}
	}
}
