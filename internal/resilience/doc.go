// Package resilience groups the fault tolerance used when talking to feed
// publishers and sync services.
//
//   - circuitbreaker: gobreaker per sync-service account and per feed host
//   - retry: exponential backoff with jitter and Retry-After hints
//
// Example:
//
//	cb := circuitbreaker.New(circuitbreaker.SyncServiceConfig(accountID))
//	err := retry.WithBackoff(ctx, retry.PullConfig(), func() error {
//	    _, err := circuitbreaker.Do(cb, func() (provider.Page, error) {
//	        return pullPage(ctx)
//	    })
//	    return err
//	})
package resilience
