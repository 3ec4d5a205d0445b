package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/geminigate/internal/signature"
)

func loadedManager(t *testing.T, expiry int64, oauth OAuthClient) *Manager {
	t.Helper()
	dir := t.TempDir()
	tok := freshToken()
	tok.ExpiryTimestamp = expiry
	writeAccount(t, dir, "acc1", tok)

	m := NewManager(oauth, &fakeResolver{id: "p"}, testLog())
	_, err := m.Load(dir)
	require.NoError(t, err)
	return m
}

func TestRefreshAllRefreshesExpiring(t *testing.T) {
	oauth := &fakeOAuth{resp: &TokenResponse{AccessToken: "renewed", ExpiresIn: 3600}}
	// Already inside the 10-minute window.
	m := loadedManager(t, time.Now().Unix()+60, oauth)

	r := NewRefresher(m, oauth, nil, 0, 0, testLog())
	r.RefreshAll(context.Background())

	assert.Equal(t, 1, oauth.calls)
	all := m.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "renewed", all[0].AccessToken)
}

func TestRefreshAllSkipsFreshTokens(t *testing.T) {
	oauth := &fakeOAuth{resp: &TokenResponse{AccessToken: "renewed", ExpiresIn: 3600}}
	// Expires in an hour, well outside the window.
	m := loadedManager(t, time.Now().Unix()+3600, oauth)

	r := NewRefresher(m, oauth, nil, 0, 0, testLog())
	r.RefreshAll(context.Background())

	assert.Zero(t, oauth.calls)
}

func TestRefreshAllFailureLeftForNextTick(t *testing.T) {
	oauth := &fakeOAuth{err: fmt.Errorf("temporarily unavailable")}
	m := loadedManager(t, time.Now().Unix()+60, oauth)

	r := NewRefresher(m, oauth, nil, 0, 0, testLog())
	r.RefreshAll(context.Background())
	r.RefreshAll(context.Background())

	// One attempt per sweep; the token itself is untouched.
	assert.Equal(t, 2, oauth.calls)
	assert.Equal(t, "access", m.GetAll()[0].AccessToken)
}

func TestShouldRefresh(t *testing.T) {
	tok := Token{ExpiryTimestamp: 1000}

	assert.True(t, shouldRefresh(tok, 400, 10*time.Minute))  // 400+600 >= 1000
	assert.True(t, shouldRefresh(tok, 999, 10*time.Minute))
	assert.False(t, shouldRefresh(tok, 399, 10*time.Minute)) // 399+600 < 1000
}

func TestRunStopsOnCancelAndSweepsCache(t *testing.T) {
	oauth := &fakeOAuth{resp: &TokenResponse{AccessToken: "renewed", ExpiresIn: 3600}}
	m := loadedManager(t, time.Now().Unix()+3600, oauth)

	cache := signature.NewCache(time.Nanosecond)
	cache.Store("stale", "sig")
	time.Sleep(time.Millisecond)

	r := NewRefresher(m, oauth, cache, 5*time.Millisecond, time.Minute, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	// Let at least one tick fire, then stop.
	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop after cancellation")
	}

	// The tick swept the expired signature.
	assert.Zero(t, cache.Len())
}

func TestNewRefresherDefaults(t *testing.T) {
	r := NewRefresher(nil, nil, nil, 0, 0, testLog())
	assert.Equal(t, DefaultRefreshInterval, r.interval)
	assert.Equal(t, DefaultRefreshAhead, r.ahead)
}
