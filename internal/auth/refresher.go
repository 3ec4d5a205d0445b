package auth

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/howard-nolan/geminigate/internal/signature"
)

// Defaults for the background refresher.
const (
	DefaultRefreshInterval = 5 * time.Minute
	DefaultRefreshAhead    = 10 * time.Minute
)

// Refresher is the background loop that keeps every account's access
// token fresh ahead of the request path, and sweeps expired entries out
// of the signature cache on the same tick.
type Refresher struct {
	manager  *Manager
	oauth    OAuthClient
	cache    *signature.Cache
	interval time.Duration
	ahead    time.Duration
	log      *logrus.Entry
}

// NewRefresher builds a refresher. interval and ahead fall back to the
// defaults when non-positive; cache may be nil to skip the sweep.
func NewRefresher(manager *Manager, oauth OAuthClient, cache *signature.Cache, interval, ahead time.Duration, log *logrus.Entry) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if ahead <= 0 {
		ahead = DefaultRefreshAhead
	}
	return &Refresher{
		manager:  manager,
		oauth:    oauth,
		cache:    cache,
		interval: interval,
		ahead:    ahead,
		log:      log,
	}
}

// Run loops until ctx is cancelled. Cancellation is observed between
// ticks only: a refresh sweep in progress always completes before the
// loop exits.
func (r *Refresher) Run(ctx context.Context) {
	r.log.WithFields(logrus.Fields{
		"interval": r.interval,
		"ahead":    r.ahead,
	}).Info("token refresher started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("token refresher stopped")
			return
		case <-ticker.C:
			r.RefreshAll(context.Background())
			if r.cache != nil {
				if n := r.cache.CleanupExpired(); n > 0 {
					r.log.WithField("evicted", n).Debug("signature cache swept")
				}
			}
		}
	}
}

// RefreshAll checks every account once and refreshes the ones expiring
// within the refresh-ahead window. A failed refresh is logged and left
// for the next tick.
func (r *Refresher) RefreshAll(ctx context.Context) {
	tokens := r.manager.GetAll()
	if len(tokens) == 0 {
		return
	}

	now := time.Now().Unix()
	for _, tok := range tokens {
		if !shouldRefresh(tok, now, r.ahead) {
			continue
		}

		log := r.log.WithField("email", tok.Email)
		log.Info("access token expiring soon, refreshing")

		resp, err := r.oauth.RefreshAccessToken(ctx, tok.RefreshToken)
		if err != nil {
			log.WithError(err).Error("refresh failed, retrying next tick")
			continue
		}
		if err := r.manager.UpdateToken(tok.AccountID, resp); err != nil {
			log.WithError(err).Error("storing refreshed token failed")
			continue
		}
		log.WithField("expires_in", resp.ExpiresIn).Info("token refreshed")
	}
}

func shouldRefresh(tok Token, now int64, ahead time.Duration) bool {
	return now+int64(ahead.Seconds()) >= tok.ExpiryTimestamp
}
