package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// refreshMargin is how long before expiry a cached token is considered
// stale and refreshed proactively.
const refreshMargin = 5 * time.Minute

// cachedToken is the persisted token shape. CreatedAt is stamped locally
// when the token is received.
type cachedToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	CreatedAt   int64  `json:"created_at"`
}

// tokenSource caches an OAuth2 client-credentials bearer token in memory
// and on disk, refreshing before expiry. Refreshes are serialized under
// the mutex; a duplicate refresh from a concurrent stream is wasted work,
// not a correctness problem.
type tokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	file         string
	client       *http.Client
	now          func() time.Time

	mu     sync.Mutex
	access string
	expiry time.Time
}

func newTokenSource(tokenURL, clientID, clientSecret, file string, client *http.Client) *tokenSource {
	t := &tokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		file:         file,
		client:       client,
		now:          time.Now,
	}
	t.loadCached()
	return t
}

// Token returns a valid bearer token, refreshing when the cached one is
// missing or within the refresh margin of expiry.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.access != "" && t.now().Before(t.expiry.Add(-refreshMargin)) {
		return t.access, nil
	}
	return t.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next Token call re-authenticates.
// Called after the API rejects a request as unauthenticated.
func (t *tokenSource) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access = ""
	t.expiry = time.Time{}
}

func (t *tokenSource) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":     {t.clientID},
		"client_secret": {t.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var tok cachedToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	tok.CreatedAt = t.now().Unix()

	t.access = tok.AccessToken
	t.expiry = time.Unix(tok.CreatedAt+tok.ExpiresIn, 0)
	t.persist(tok)
	return t.access, nil
}

// loadCached restores a previously persisted token. Any failure just means
// starting without a cache.
func (t *tokenSource) loadCached() {
	data, err := os.ReadFile(t.file)
	if err != nil {
		return
	}
	var tok cachedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		slog.Warn("ignoring corrupt cached token", "file", t.file, "error", err)
		return
	}
	t.access = tok.AccessToken
	t.expiry = time.Unix(tok.CreatedAt+tok.ExpiresIn, 0)
}

// persist writes the token to disk best-effort; the in-memory cache is
// authoritative for this process.
func (t *tokenSource) persist(tok cachedToken) {
	if t.file == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.file), 0o755); err != nil {
		slog.Warn("cannot create token dir", "file", t.file, "error", err)
		return
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(t.file, data, 0o600); err != nil {
		slog.Warn("cannot persist token", "file", t.file, "error", err)
	}
}
