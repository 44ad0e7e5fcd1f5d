package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/splatauth/internal/domain/model"
	"github.com/ericfisherdev/splatauth/internal/domain/port/driven"
)

// refreshRequest represents a manual refresh trigger.
type refreshRequest struct {
	done chan error
}

// RefreshService proactively re-derives the gtoken and bullet token before
// they expire, so foreground callers rarely pay derivation latency. It checks
// the keychain on a ticker and regenerates when a derived token is absent or
// within the expiry margin. Failed cycles are retried with backoff inside the
// cycle; a store, when configured, receives the refreshed tokens.
type RefreshService struct {
	manager    *TokenManager
	store      driven.TokenStore // optional; nil disables persistence
	interval   time.Duration
	margin     time.Duration
	maxRetries uint64
	newBackoff func() backoff.BackOff
	refreshCh  chan refreshRequest
}

// NewRefreshService creates a refresh service. interval is the check cadence;
// margin is how far before expiry a token counts as due. store may be nil.
func NewRefreshService(manager *TokenManager, store driven.TokenStore, interval, margin time.Duration) *RefreshService {
	return NewRefreshServiceWithBackoff(manager, store, interval, margin, 3, func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 2 * time.Second
		bo.MaxInterval = 30 * time.Second
		return bo
	})
}

// NewRefreshServiceWithBackoff creates a refresh service with an injected
// retry budget and backoff schedule. Tests use this to run retry loops
// without waiting.
func NewRefreshServiceWithBackoff(manager *TokenManager, store driven.TokenStore, interval, margin time.Duration, maxRetries uint64, newBackoff func() backoff.BackOff) *RefreshService {
	return &RefreshService{
		manager:    manager,
		store:      store,
		interval:   interval,
		margin:     margin,
		maxRetries: maxRetries,
		newBackoff: newBackoff,
		refreshCh:  make(chan refreshRequest),
	}
}

// Start begins the refresh loop. It runs an immediate check, then checks on
// the configured interval, and also serves manual refresh requests. Start
// blocks until the context is canceled.
func (s *RefreshService) Start(ctx context.Context) {
	if err := s.refreshDue(ctx); err != nil {
		slog.Error("initial token refresh failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh service stopped")
			return
		case <-ticker.C:
			if err := s.refreshDue(ctx); err != nil {
				slog.Error("token refresh cycle failed", "error", err)
			}
		case req := <-s.refreshCh:
			req.done <- s.regenerate(ctx)
		}
	}
}

// RefreshNow forces a full regeneration, bypassing the ticker and the expiry
// margin. It blocks until the regeneration completes or the context is
// canceled.
func (s *RefreshService) RefreshNow(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case s.refreshCh <- refreshRequest{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refreshDue regenerates the derived tokens if any of them is due.
func (s *RefreshService) refreshDue(ctx context.Context) error {
	if !s.due() {
		return nil
	}
	return s.regenerate(ctx)
}

// due reports whether the gtoken or bullet token is absent or inside the
// expiry margin.
func (s *RefreshService) due() bool {
	now := s.manager.now()
	for _, name := range []model.TokenName{model.Gtoken, model.BulletToken} {
		tok, err := s.manager.keychain.Get(name)
		if err != nil || tok.TimeLeft(now) < s.margin {
			return true
		}
	}
	return false
}

// regenerate runs RegenerateTokens with backoff-limited retries. Transient
// signing outages are retried; rejections and missing session tokens are
// permanent and stop the retry loop immediately.
func (s *RefreshService) regenerate(ctx context.Context) error {
	operation := func() error {
		err := s.manager.RegenerateTokens(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, driven.ErrSigningRejected) || errors.Is(err, model.ErrTokenNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(s.newBackoff(), s.maxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return err
	}

	slog.Info("tokens refreshed")
	if s.store != nil {
		if err := s.store.Save(ctx, s.manager.Snapshot()); err != nil {
			slog.Warn("persisting refreshed tokens failed", "error", err)
		}
	}
	return nil
}
