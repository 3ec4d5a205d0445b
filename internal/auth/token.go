// Package auth owns the upstream credentials: the multi-account token
// store with round-robin rotation, OAuth access-token refresh, project id
// resolution, and the background refresher loop.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// refreshAheadSecs is how close to expiry a token may get before a
// request-path refresh kicks in.
const refreshAheadSecs = 300

// Token is one account's credential state. A copy is handed to the
// request pipeline; the manager keeps the authoritative record.
type Token struct {
	AccountID    string
	Email        string
	AccessToken  string
	RefreshToken string

	// ExpiresIn is the lifetime the OAuth server reported, in seconds.
	// ExpiryTimestamp is the absolute unix-seconds deadline derived
	// from it; all expiry checks use the absolute form.
	ExpiresIn       int64
	ExpiryTimestamp int64

	ProjectID   string
	SessionID   string
	AccountPath string
}

// TokenResponse is what an OAuth refresh returns.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// OAuthClient refreshes access tokens. It makes a network call and
// mutates no local state.
type OAuthClient interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// ProjectResolver discovers the cloud project id tied to an access token.
type ProjectResolver interface {
	FetchProjectID(ctx context.Context, accessToken string) (string, error)
}

// record pairs a token with its own lock so refreshes of different
// accounts never serialize against each other.
type record struct {
	mu  sync.Mutex
	tok Token
}

// Manager holds the loaded accounts and rotates through them. All
// methods are safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	records map[string]*record
	order   []string // account ids in load order, indexed by the counter
	counter atomic.Uint64

	oauth    OAuthClient
	projects ProjectResolver
	log      *logrus.Entry

	// now is split out so tests can control expiry checks.
	now func() int64
}

// NewManager creates an empty manager. Call Load before serving.
func NewManager(oauth OAuthClient, projects ProjectResolver, log *logrus.Entry) *Manager {
	return &Manager{
		records:  make(map[string]*record),
		oauth:    oauth,
		projects: projects,
		log:      log,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// accountFile is the on-disk shape: one JSON file per account.
type accountFile struct {
	ID    string       `json:"id"`
	Email string       `json:"email"`
	Token accountToken `json:"token"`
}

type accountToken struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	ExpiresIn       int64  `json:"expires_in"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"`
	ProjectID       string `json:"project_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
}

// Load reads every .json file in dir into the manager. Malformed files
// are logged and skipped rather than failing the whole load. Returns
// the number of accounts loaded.
func (m *Manager) Load(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading account directory %s: %w", dir, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		tok, err := loadAccount(path)
		if err != nil {
			m.log.WithError(err).WithField("path", path).Warn("skipping account file")
			continue
		}

		if _, exists := m.records[tok.AccountID]; !exists {
			m.order = append(m.order, tok.AccountID)
		}
		m.records[tok.AccountID] = &record{tok: *tok}
		count++
	}

	return count, nil
}

func loadAccount(path string) (*Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var acct accountFile
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if acct.ID == "" || acct.Email == "" {
		return nil, fmt.Errorf("missing id or email")
	}
	if acct.Token.AccessToken == "" || acct.Token.RefreshToken == "" {
		return nil, fmt.Errorf("missing access_token or refresh_token")
	}

	sessionID := acct.Token.SessionID
	if sessionID == "" {
		sessionID = GenerateSessionID()
	}

	return &Token{
		AccountID:       acct.ID,
		Email:           acct.Email,
		AccessToken:     acct.Token.AccessToken,
		RefreshToken:    acct.Token.RefreshToken,
		ExpiresIn:       acct.Token.ExpiresIn,
		ExpiryTimestamp: acct.Token.ExpiryTimestamp,
		ProjectID:       acct.Token.ProjectID,
		SessionID:       sessionID,
		AccountPath:     path,
	}, nil
}

// Len returns the number of loaded accounts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// GetToken picks the next account in rotation, refreshing its access
// token if it is about to expire and resolving a project id if the
// account has none. The returned token is a copy; it stays valid even
// if the record is refreshed again concurrently.
func (m *Manager) GetToken(ctx context.Context) (*Token, error) {
	m.mu.RLock()
	total := len(m.order)
	if total == 0 {
		m.mu.RUnlock()
		return nil, fmt.Errorf("no accounts loaded")
	}
	idx := int(m.counter.Add(1)-1) % total
	rec := m.records[m.order[idx]]
	m.mu.RUnlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := m.now()
	if now >= rec.tok.ExpiryTimestamp-refreshAheadSecs {
		m.log.WithField("email", rec.tok.Email).Info("access token near expiry, refreshing")

		resp, err := m.oauth.RefreshAccessToken(ctx, rec.tok.RefreshToken)
		if err != nil {
			// Keep the stale token; the upstream will answer 401 and the
			// retry policy takes it from there.
			m.log.WithError(err).WithField("email", rec.tok.Email).Error("token refresh failed")
		} else {
			rec.tok.AccessToken = resp.AccessToken
			rec.tok.ExpiresIn = resp.ExpiresIn
			rec.tok.ExpiryTimestamp = now + resp.ExpiresIn
			m.persistToken(rec)
		}
	}

	if rec.tok.ProjectID == "" {
		m.log.WithField("email", rec.tok.Email).Info("account has no project id, resolving")

		projectID, err := m.projects.FetchProjectID(ctx, rec.tok.AccessToken)
		if err != nil {
			m.log.WithError(err).WithField("email", rec.tok.Email).Warn("project id resolution failed, using synthetic id")
			projectID = SyntheticProjectID()
		}
		rec.tok.ProjectID = projectID
		m.persistToken(rec)
	}

	tok := rec.tok
	return &tok, nil
}

// UpdateToken applies a refresh result to the named account and writes
// it back to disk.
func (m *Manager) UpdateToken(accountID string, resp *TokenResponse) error {
	m.mu.RLock()
	rec, ok := m.records[accountID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown account %s", accountID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.tok.AccessToken = resp.AccessToken
	rec.tok.ExpiresIn = resp.ExpiresIn
	rec.tok.ExpiryTimestamp = m.now() + resp.ExpiresIn
	m.persistToken(rec)
	return nil
}

// GetAll returns a snapshot of every token, for the refresher's sweep.
func (m *Manager) GetAll() []Token {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Token, 0, len(m.order))
	for _, id := range m.order {
		rec := m.records[id]
		rec.mu.Lock()
		out = append(out, rec.tok)
		rec.mu.Unlock()
	}
	return out
}

// persistToken rewrites the account file with the record's current
// token fields, preserving any fields this process doesn't know about.
// Failure is logged, not returned: the in-memory update already took
// effect and must not be rolled back over an I/O hiccup.
// Caller holds rec.mu.
func (m *Manager) persistToken(rec *record) {
	data, err := os.ReadFile(rec.tok.AccountPath)
	if err != nil {
		m.log.WithError(err).WithField("path", rec.tok.AccountPath).Warn("persisting token: read failed")
		return
	}

	var content map[string]json.RawMessage
	if err := json.Unmarshal(data, &content); err != nil {
		m.log.WithError(err).WithField("path", rec.tok.AccountPath).Warn("persisting token: parse failed")
		return
	}

	var tokenObj map[string]json.RawMessage
	if raw, ok := content["token"]; ok {
		if err := json.Unmarshal(raw, &tokenObj); err != nil {
			tokenObj = make(map[string]json.RawMessage)
		}
	} else {
		tokenObj = make(map[string]json.RawMessage)
	}

	setField := func(key string, v any) {
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		tokenObj[key] = b
	}
	setField("access_token", rec.tok.AccessToken)
	setField("expires_in", rec.tok.ExpiresIn)
	setField("expiry_timestamp", rec.tok.ExpiryTimestamp)
	setField("session_id", rec.tok.SessionID)
	if rec.tok.ProjectID != "" {
		setField("project_id", rec.tok.ProjectID)
	}

	tokenRaw, err := json.Marshal(tokenObj)
	if err != nil {
		m.log.WithError(err).Warn("persisting token: marshal failed")
		return
	}
	content["token"] = tokenRaw

	out, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		m.log.WithError(err).Warn("persisting token: marshal failed")
		return
	}
	if err := os.WriteFile(rec.tok.AccountPath, out, 0o600); err != nil {
		m.log.WithError(err).WithField("path", rec.tok.AccountPath).Warn("persisting token: write failed")
	}
}

// GenerateSessionID produces the session id format the upstream expects
// when an account file doesn't carry one: a negative 19-digit integer,
// as a string.
func GenerateSessionID() string {
	n := int64(1_000_000_000_000_000_000) + rand.Int64N(8_000_000_000_000_000_000)
	return strconv.FormatInt(-n, 10)
}
