package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/delta-auth/internal/errs"
)

// Run refreshes the session every refresh interval while authenticated.
// It returns when ctx is done or the store is closed.
func (s *Store) Run(ctx context.Context) {
	t := time.NewTicker(s.refreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-t.C:
			if !s.IsAuthenticated() {
				continue
			}
			if err := s.Refresh(ctx); err != nil {
				if errs.KindOf(err) == errs.KindBusy {
					s.log.Debug("auto refresh skipped, store busy")
					continue
				}
				s.log.Warn("auto refresh failed", zap.Error(err))
			}
		}
	}
}

// StartAutoRefresh runs Run in a goroutine. The returned stop waits for it to exit.
func (s *Store) StartAutoRefresh(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		s.Run(ctx)
	}()
	return func() {
		cancel()
		<-exited
	}
}
