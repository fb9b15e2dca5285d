package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/mossyoak/genfetch/internal/common"
)

// Pool maintains a fixed-size set of tokens, one per concurrent worker.
// Each slot is validated and refreshed independently; the whole pool is
// persisted after validation.
type Pool struct {
	mu     sync.Mutex
	tokens []string
	cfg    Config
	http   *resty.Client
}

// NewPool creates a pool of the given size, loading any previously
// persisted tokens. Missing slots are left empty and filled on Validate.
func NewPool(cfg Config, size int) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("auth: pool size must be positive, got %d", size)
	}

	tokens := make([]string, size)
	if cfg.StatePath != "" {
		if state, err := loadState(cfg.StatePath); err == nil {
			for i := 0; i < size && i < len(state.Tokens); i++ {
				tokens[i] = state.Tokens[i]
			}
			slog.Info("Loaded saved token pool",
				"state_file", cfg.StatePath, "slots", size, "saved", len(state.Tokens))
		}
	}

	return &Pool{
		tokens: tokens,
		cfg:    cfg,
		http:   probeClient(),
	}, nil
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.tokens)
}

// Validate probes every slot and refreshes the ones the API rejects, then
// persists the pool. A slot that probes with an unexpected status keeps its
// token.
func (p *Pool) Validate(ctx context.Context) error {
	for i := range p.tokens {
		if err := p.validateSlot(ctx, i); err != nil {
			return fmt.Errorf("validating token slot %d: %w", i, err)
		}
	}
	p.persist()
	return nil
}

func (p *Pool) validateSlot(ctx context.Context, i int) error {
	token := p.Slot(i).Token()
	if token == "" {
		_, err := p.Slot(i).Refresh(ctx)
		return err
	}

	status, err := probe(ctx, p.http, p.cfg.BaseURL, p.cfg.ProbePID, token)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized:
		slog.Info("Pool token rejected, requesting a new one", "slot", i)
		if _, err := p.Slot(i).Refresh(ctx); err != nil {
			return fmt.Errorf("%w: replacing it failed: %w", common.ErrTokenRejected, err)
		}
		return nil
	default:
		slog.Warn("Unexpected status validating pool token", "slot", i, "status", status)
		return nil
	}
}

// Slot returns a handle bound to one pool slot. Each worker owns exactly
// one slot, so slot refreshes never contend across workers beyond the
// persistence write.
func (p *Pool) Slot(i int) *Slot {
	return &Slot{pool: p, index: i}
}

func (p *Pool) persist() {
	if p.cfg.StatePath == "" {
		return
	}
	p.mu.Lock()
	tokens := make([]string, len(p.tokens))
	copy(tokens, p.tokens)
	p.mu.Unlock()

	if err := saveState(p.cfg.StatePath, tokens); err != nil {
		slog.Error("Failed to persist token pool", "path", p.cfg.StatePath, "error", err)
	}
}

// Slot is a single-token view of a pool, satisfying the same contract as
// Store.
type Slot struct {
	pool  *Pool
	index int
}

// Token returns the slot's current token.
func (s *Slot) Token() string {
	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	return s.pool.tokens[s.index]
}

// Refresh replaces the slot's token via the provider and persists the pool.
func (s *Slot) Refresh(ctx context.Context) (string, error) {
	token, err := s.pool.cfg.Provider.NewToken(ctx)
	if err != nil {
		return "", err
	}

	s.pool.mu.Lock()
	s.pool.tokens[s.index] = token
	s.pool.mu.Unlock()

	s.pool.persist()
	return token, nil
}
