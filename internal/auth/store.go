package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mossyoak/genfetch/internal/common"
)

// DefaultProbePID is the well-known person identifier used for the cheap
// token validation query.
const DefaultProbePID = "LHKL-JLF"

// Config holds token store configuration.
type Config struct {
	// BaseURL is the record API root, e.g. https://api.example.org.
	BaseURL string
	// ProbePID is the person identifier used for validation probes.
	// Defaults to DefaultProbePID.
	ProbePID string
	// StatePath is the JSON file tokens are persisted to. Empty disables
	// persistence.
	StatePath string
	// Provider supplies replacement tokens.
	Provider Provider
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("auth: base URL is required")
	}
	if c.Provider == nil {
		return fmt.Errorf("auth: token provider is required")
	}
	if c.ProbePID == "" {
		c.ProbePID = DefaultProbePID
	}
	return nil
}

// Store holds a single bearer token. Callers never inspect the token beyond
// passing it along; the store alone decides when it is replaced.
type Store struct {
	mu    sync.Mutex
	token string
	cfg   Config
	http  *resty.Client
}

// NewStore creates a token store, loading a previously persisted token when
// one exists.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:  cfg,
		http: probeClient(),
	}

	if cfg.StatePath != "" {
		if state, err := loadState(cfg.StatePath); err == nil && len(state.Tokens) > 0 {
			s.token = state.Tokens[0]
			slog.Info("Loaded saved token", "state_file", cfg.StatePath,
				"saved_at", state.SavedAt.Format("2006-01-02"))
		}
	}

	return s, nil
}

// Token returns the current token without probing the API.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Refresh obtains a fresh token from the provider, stores it, persists it,
// and returns it.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	token, err := s.cfg.Provider.NewToken(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.persist()
	return token, nil
}

// Validate probes the API with the current token and refreshes it if the
// probe comes back unauthorized. Any status other than 200 or 401 is
// reported but the stale token is kept; callers handle subsequent failures
// themselves.
func (s *Store) Validate(ctx context.Context) error {
	status, err := probe(ctx, s.http, s.cfg.BaseURL, s.cfg.ProbePID, s.Token())
	if err != nil {
		return fmt.Errorf("token validation probe: %w", err)
	}

	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized:
		slog.Info("Token rejected, requesting a new one")
		if _, err := s.Refresh(ctx); err != nil {
			return fmt.Errorf("%w: replacing it failed: %w", common.ErrTokenRejected, err)
		}
		return nil
	default:
		slog.Warn("Unexpected status during token validation", "status", status)
		return nil
	}
}

func (s *Store) persist() {
	if s.cfg.StatePath == "" {
		return
	}
	s.mu.Lock()
	tokens := []string{s.token}
	s.mu.Unlock()

	if err := saveState(s.cfg.StatePath, tokens); err != nil {
		slog.Error("Failed to persist token state", "path", s.cfg.StatePath, "error", err)
	}
}

func probeClient() *resty.Client {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	return client
}

// probe issues the well-known test query and returns its HTTP status.
func probe(ctx context.Context, client *resty.Client, baseURL, pid, token string) (int, error) {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Accept", "application/json").
		SetQueryParam("pids", pid).
		Get(baseURL + "/platform/tree/persons")
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}
