package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossyoak/genfetch/internal/common"
)

type stubTokens struct {
	mu        sync.Mutex
	token     string
	refreshes int
	err       error
}

func (s *stubTokens) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *stubTokens) Refresh(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.refreshes++
	s.token = "fresh"
	return s.token, nil
}

// newTestClient builds a client against srv with instant recorded sleeps
// and a high request rate so tests finish quickly.
func newTestClient(t *testing.T, srv *httptest.Server, tokens TokenSource, warn *common.WarnLog) (*Client, *[]time.Duration) {
	t.Helper()

	client, err := NewClient(Config{
		BaseURL:           srv.URL,
		Tokens:            tokens,
		WarnLog:           warn,
		RequestsPerSecond: 1000,
		Burst:             10,
	})
	require.NoError(t, err)

	var slept []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return client, &slept
}

func TestPersonaRecordSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/platform/records/personas/ABCD-123", r.URL.Path)
		_, _ = w.Write([]byte(`{"persons":[]}`))
	}))
	defer srv.Close()

	client, slept := newTestClient(t, srv, &stubTokens{token: "tok"}, nil)

	body, ok, err := client.PersonaRecord(context.Background(), "ABCD-123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"persons":[]}`, string(body))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Empty(t, *slept)
}

func TestEmptyResponseDoesNotRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, slept := newTestClient(t, srv, &stubTokens{token: "tok"}, nil)

	body, ok, err := client.PersonaRecord(context.Background(), "NONE-000")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, body)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestThrottledWaitsPaddedRetryAfter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "10")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, slept := newTestClient(t, srv, &stubTokens{token: "tok"}, nil)

	_, ok, err := client.PersonaRecord(context.Background(), "ABCD-123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, calls)
	require.Len(t, *slept, 1)
	assert.InDelta(t, (11 * time.Second).Seconds(), (*slept)[0].Seconds(), 0.001)
}

func TestThrottledFallbackOnBadRetryAfter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "soon")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, slept := newTestClient(t, srv, &stubTokens{token: "tok"}, nil)

	_, ok, err := client.PersonaRecord(context.Background(), "ABCD-123")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, *slept, 1)
	assert.Equal(t, client.throttleFallback, (*slept)[0])
}

func TestServerErrorsRetriedThenSucceed(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, slept := newTestClient(t, srv, &stubTokens{token: "tok"}, nil)

	_, ok, err := client.PersonaRecord(context.Background(), "ABCD-123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{client.serverWait, client.serverWait, client.serverWait}, *slept)
}

func TestServerErrorsAbandonedAfterMaxRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	warnFile := filepath.Join(t.TempDir(), "warnings.log")
	client, slept := newTestClient(t, srv, &stubTokens{token: "tok"}, common.NewWarnLog(warnFile))

	body, ok, err := client.PersonaRecord(context.Background(), "ABCD-123")
	require.NoError(t, err, "abandonment is not fatal")
	assert.False(t, ok)
	assert.Nil(t, body)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")
	assert.Len(t, *slept, 3)

	logged, err := os.ReadFile(warnFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "Retries maxed out. Last status was 502.")
	assert.Contains(t, string(logged), "Origin: persona record")
	assert.Contains(t, string(logged), "Load: ABCD-123")
}

func TestUnauthorizedRefreshesAndRetries(t *testing.T) {
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tokens := &stubTokens{token: "stale"}
	client, _ := newTestClient(t, srv, tokens, nil)

	_, ok, err := client.PersonaRecord(context.Background(), "ABCD-123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, auths)
}

func TestUnauthorizedFatalWhenProviderFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &stubTokens{token: "stale", err: common.ErrProviderFailed}
	client, _ := newTestClient(t, srv, tokens, nil)

	_, _, err := client.PersonaRecord(context.Background(), "ABCD-123")
	assert.ErrorIs(t, err, common.ErrProviderFailed)
}

func TestClientErrorWarnsAndReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	warnFile := filepath.Join(t.TempDir(), "warnings.log")
	client, slept := newTestClient(t, srv, &stubTokens{token: "tok"}, common.NewWarnLog(warnFile))

	body, ok, err := client.PersonaRecord(context.Background(), "GONE-404")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, body)
	assert.Empty(t, *slept)

	logged, err := os.ReadFile(warnFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "HTTP status code 404")
	assert.Contains(t, string(logged), "Load: GONE-404")
}

func TestAttachedSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/platform/tree/persons/LHKL-JLF/sources", r.URL.Path)
		_, _ = w.Write([]byte(`{"sourceDescriptions":[
			{"about":"https://example.org/ark:/61903/1:1:ABCD-123",
			 "titles":[{"value":"1900 United States Census"}]}]}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, &stubTokens{token: "tok"}, nil)

	sources, err := client.AttachedSources(context.Background(), "LHKL-JLF")
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "https://example.org/ark:/61903/1:1:ABCD-123", sources[0].About)
	require.Len(t, sources[0].Titles, 1)
	assert.Equal(t, "1900 United States Census", sources[0].Titles[0].Value)
}

func TestSearchSourcesPassesCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/platform/tree/persons/LHKL-JLF/matches", r.URL.Path)
		assert.Equal(t, DefaultCollection, r.URL.Query().Get("collection"))
		_, _ = w.Write([]byte(`{"entries":[{"id":"WXYZ-987","title":"1910 Census","score":4.2}]}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, &stubTokens{token: "tok"}, nil)

	entries, err := client.SearchSources(context.Background(), "LHKL-JLF")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "WXYZ-987", entries[0].ID)
	assert.Equal(t, 4.2, entries[0].Score)
}

func TestTreeMatchesDecodesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/platform/tree/matches", r.URL.Path)
		_, _ = w.Write([]byte(`{"entries":[{"id":"KWME-111","score":7.5},{"id":"KWME-222","score":3.1}]}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, &stubTokens{token: "tok"}, nil)

	entries, err := client.TreeMatches(context.Background(), `surname:Doe`)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "KWME-111", entries[0].ID)
}

func TestDecodeFailureIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, &stubTokens{token: "tok"}, nil)

	_, err := client.AttachedSources(context.Background(), "LHKL-JLF")
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "missing base URL", cfg: Config{Tokens: &stubTokens{}}, wantErr: true},
		{name: "missing tokens", cfg: Config{BaseURL: "https://api.example.org"}, wantErr: true},
		{name: "valid", cfg: Config{BaseURL: "https://api.example.org", Tokens: &stubTokens{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
