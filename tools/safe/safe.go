package safe

import (
	"chatsync/logger"
)

// Go starts a goroutine that recovers from panic, so a single bad
// frame or peer cannot take the gateway down.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
