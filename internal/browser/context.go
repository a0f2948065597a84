package browser

import (
	"context"
	"sync"
)

// CombineContext derives a context from primary that is additionally canceled
// as soon as secondary is done. chromedp actions must run on the tab's own
// context chain, so this is how a caller's deadline reaches a tab operation
// without detaching the tab.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := make(chan struct{})

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-ctx.Done():
		case <-stop:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() { close(stop) })
		cancel()
	}
}
