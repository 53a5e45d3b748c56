// Package discovery fetches and caches Agent Cards per agent base URL.
//
// Fresh cards are served from memory under a read lock. Concurrent misses for
// one URL share a single fetch. An expired card keeps being served for a grace
// period while one background refresh runs; a failed refresh keeps the stale
// card and marks the entry degraded until a later refresh succeeds.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vivars7/a2a-orchestrator/internal/config"
	orcherrors "github.com/vivars7/a2a-orchestrator/internal/errors"
	"github.com/vivars7/a2a-orchestrator/internal/protocol"
)

// Fetch results reported to the Observer.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultInvalid = "invalid"
)

// Config holds cache timing and fetch limits.
type Config struct {
	CardPath     string
	Timeout      time.Duration
	TTL          time.Duration
	Grace        time.Duration
	MaxCardBytes int
}

// ConfigFrom extracts the discovery settings from the root config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		CardPath:     cfg.Discovery.CardPath,
		Timeout:      cfg.Discovery.Timeout.Duration,
		TTL:          cfg.Discovery.TTL.Duration,
		Grace:        cfg.Discovery.Grace.Duration,
		MaxCardBytes: cfg.Discovery.MaxCardBytes,
	}
}

// Observer receives discovery events, typically for metrics.
type Observer interface {
	CardFetched(agentURL, result string, d time.Duration)
	CardDegraded(agentURL string, degraded bool)
	CardChanged(agentURL string, critical bool)
}

// Client fetches Agent Cards and caches them per URL.
type Client struct {
	mu      sync.RWMutex
	cfg     Config
	entries map[string]*entry

	group    singleflight.Group
	http     *http.Client
	verifier *JWSVerifier
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	// bgCtx bounds fetches that outlive the caller that started them.
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// entry is the cached state for one URL. card is nil until the first success.
type entry struct {
	card        *protocol.AgentCard
	fetchedAt   time.Time
	degraded    bool
	lastError   error
	nextAttempt time.Time
}

// Status exposes one cache entry for health reporting.
type Status struct {
	URL       string    `json:"url"`
	Name      string    `json:"name,omitempty"`
	Cached    bool      `json:"cached"`
	Degraded  bool      `json:"degraded"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// New creates a discovery client. verifier may be nil to accept unsigned cards.
func New(cfg Config, verifier *JWSVerifier, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxCardBytes <= 0 {
		cfg.MaxCardBytes = 1 << 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		entries:  make(map[string]*entry),
		http:     &http.Client{},
		verifier: verifier,
		logger:   logger,
		now:      time.Now,
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// SetHTTPClient replaces the HTTP client used for card fetches.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.http = hc
}

// SetObserver installs an observer for fetch and health events.
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// Close cancels in-flight background refreshes.
func (c *Client) Close() {
	c.bgCancel()
}

// OnConfigReload applies new cache timing. Card path and timeout need a restart.
func (c *Client) OnConfigReload(newCfg *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.TTL = newCfg.Discovery.TTL.Duration
	c.cfg.Grace = newCfg.Discovery.Grace.Duration
	return nil
}

// Get returns the Agent Card for baseURL. It fails with a discovery error only
// when no card has ever been fetched for the URL. Only the first miss waits
// on the network; after a failed first fetch the error is returned at once
// while retries run in the background, one per grace period.
func (c *Client) Get(ctx context.Context, baseURL string) (*protocol.AgentCard, error) {
	key := normalizeURL(baseURL)
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	var (
		card        *protocol.AgentCard
		fetchedAt   time.Time
		degraded    bool
		nextAttempt time.Time
		lastErr     error
	)
	if ok {
		card, fetchedAt, degraded, nextAttempt, lastErr = e.card, e.fetchedAt, e.degraded, e.nextAttempt, e.lastError
	}
	ttl, grace := c.cfg.TTL, c.cfg.Grace
	c.mu.RUnlock()

	if card == nil {
		if lastErr == nil {
			return c.fetchShared(ctx, key)
		}
		// Never discovered and the last attempt failed: report that failure
		// at once and retry in the background once the backoff has passed.
		if !now.Before(nextAttempt) {
			c.refreshInBackground(key)
		}
		return nil, lastErr
	}

	age := now.Sub(fetchedAt)
	switch {
	case age < ttl:
		return card, nil
	case age < ttl+grace || degraded:
		if !now.Before(nextAttempt) {
			c.refreshInBackground(key)
		}
		return card, nil
	default:
		fresh, err := c.fetchShared(ctx, key)
		if err != nil {
			c.logger.Warn("serving stale agent card after failed refresh",
				"url", key,
				"age", age,
				"error", err,
			)
			return card, nil
		}
		return fresh, nil
	}
}

// Refresh forces a fetch for baseURL, sharing any fetch already in flight.
func (c *Client) Refresh(ctx context.Context, baseURL string) (*protocol.AgentCard, error) {
	return c.fetchShared(ctx, normalizeURL(baseURL))
}

// DiscoverAll fetches cards for every URL concurrently. cards[i] is nil when errs[i] is set.
func (c *Client) DiscoverAll(ctx context.Context, urls []string) ([]*protocol.AgentCard, []error) {
	cards := make([]*protocol.AgentCard, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(16)
	for i, u := range urls {
		g.Go(func() error {
			cards[i], errs[i] = c.Get(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return cards, errs
}

// Degraded reports whether the last refresh for baseURL failed while a stale card was kept.
func (c *Client) Degraded(baseURL string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[normalizeURL(baseURL)]
	return ok && e.degraded
}

// Peek returns the cached card for baseURL without fetching.
func (c *Client) Peek(baseURL string) (*protocol.AgentCard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[normalizeURL(baseURL)]
	if !ok || e.card == nil {
		return nil, false
	}
	return e.card, true
}

// Status returns every cache entry ordered by URL.
func (c *Client) Status() []Status {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	out := make([]Status, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.StatusOf(k))
	}
	return out
}

// StatusOf returns the state of one cache entry.
func (c *Client) StatusOf(baseURL string) Status {
	key := normalizeURL(baseURL)
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{URL: key}
	e, ok := c.entries[key]
	if !ok {
		return st
	}
	st.Degraded = e.degraded
	st.FetchedAt = e.fetchedAt
	if e.card != nil {
		st.Cached = true
		st.Name = e.card.Name
	}
	if e.lastError != nil {
		st.LastError = e.lastError.Error()
	}
	return st
}

// fetchShared runs or joins the single in-flight fetch for key and waits for
// it or for ctx. The fetch itself is not bound to ctx, so one impatient
// caller does not fail the others.
func (c *Client) fetchShared(ctx context.Context, key string) (*protocol.AgentCard, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fetchAndStore(key)
	})
	select {
	case <-ctx.Done():
		return nil, orcherrors.Discovery(key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*protocol.AgentCard), nil
	}
}

// refreshInBackground starts a shared fetch without waiting for it.
// DoChan's result channel is buffered, so nobody has to read it.
func (c *Client) refreshInBackground(key string) {
	c.group.DoChan(key, func() (interface{}, error) {
		return c.fetchAndStore(key)
	})
}

// fetchAndStore performs one network fetch and records the outcome.
func (c *Client) fetchAndStore(key string) (*protocol.AgentCard, error) {
	c.mu.RLock()
	timeout := c.cfg.Timeout
	c.mu.RUnlock()

	ctx := c.bgCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := c.now()
	card, result, err := c.fetch(ctx, key)
	if c.observer != nil {
		c.observer.CardFetched(key, result, c.now().Sub(start))
	}
	if err != nil {
		err = orcherrors.Discovery(key, err)
	}
	c.store(key, card, err)
	if err != nil {
		return nil, err
	}
	return card, nil
}

// store records a fetch outcome. A failure keeps any previous card and marks it degraded.
func (c *Client) store(key string, card *protocol.AgentCard, fetchErr error) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	wasDegraded := e.degraded
	var changes []Change
	if fetchErr != nil {
		e.lastError = fetchErr
		e.nextAttempt = now.Add(c.cfg.Grace)
		if e.card != nil {
			e.degraded = true
		}
	} else {
		changes = DetectChanges(e.card, card)
		e.card = card
		e.fetchedAt = now
		e.degraded = false
		e.lastError = nil
		e.nextAttempt = time.Time{}
	}
	degraded := e.degraded
	c.mu.Unlock()

	if fetchErr != nil {
		c.logger.Warn("failed to fetch agent card", "url", key, "error", fetchErr, "degraded", degraded)
	} else if len(changes) > 0 {
		critical := HasCriticalChanges(changes)
		c.logger.Info("agent card changed", "url", key, "agent", card.Name, "changes", len(changes), "critical", critical)
		for _, ch := range changes {
			c.logger.Debug("agent card field changed", "url", key, "field", ch.Field, "old", ch.OldValue, "new", ch.NewValue)
		}
		if c.observer != nil {
			c.observer.CardChanged(key, critical)
		}
	}
	if wasDegraded != degraded {
		if degraded {
			c.logger.Warn("agent marked degraded, serving stale card", "url", key)
		} else {
			c.logger.Info("agent recovered", "url", key)
		}
		if c.observer != nil {
			c.observer.CardDegraded(key, degraded)
		}
	}
}

// fetch retrieves and validates the card. The returned result string is for metrics.
func (c *Client) fetch(ctx context.Context, key string) (*protocol.AgentCard, string, error) {
	cardURL := buildCardURL(key, c.cfg.CardPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, ResultError, fmt.Errorf("creating card request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ResultError, fmt.Errorf("fetching %s: %w", cardURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, ResultError, fmt.Errorf("%s returned HTTP %d", cardURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.cfg.MaxCardBytes)+1))
	if err != nil {
		return nil, ResultError, fmt.Errorf("reading card body: %w", err)
	}
	if len(body) > c.cfg.MaxCardBytes {
		return nil, ResultInvalid, fmt.Errorf("card body exceeds %d bytes", c.cfg.MaxCardBytes)
	}

	if c.verifier != nil {
		body, err = c.verifier.VerifyCardSignature(ctx, body)
		if err != nil {
			return nil, ResultInvalid, fmt.Errorf("card signature: %w", err)
		}
	}

	var card protocol.AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, ResultInvalid, fmt.Errorf("parsing card JSON: %w", err)
	}
	if err := card.Validate(); err != nil {
		return nil, ResultInvalid, err
	}
	return &card, ResultOK, nil
}

// buildCardURL constructs the full URL for fetching the Agent Card.
func buildCardURL(baseURL, cardPath string) string {
	if cardPath == "" {
		cardPath = "/.well-known/agent-card.json"
	}
	if !strings.HasPrefix(cardPath, "/") {
		cardPath = "/" + cardPath
	}
	return strings.TrimRight(baseURL, "/") + cardPath
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
