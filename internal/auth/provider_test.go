package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossyoak/genfetch/internal/common"
)

func TestSessionProviderNewToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/cis-web/oauth2/v3/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "unauthenticated_session", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-abc", r.PostForm.Get("client_id"))
		assert.Equal(t, "203.0.113.7", r.PostForm.Get("ip_address"))

		_, _ = w.Write([]byte(`{"access_token":"new-session-token","token_type":"bearer"}`))
	}))
	defer srv.Close()

	provider := NewSessionProvider(srv.URL, "client-abc", "203.0.113.7")

	token, err := provider.NewToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-session-token", token)
}

func TestSessionProviderFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: ""},
		{name: "bad json", status: http.StatusOK, body: "not json"},
		{name: "empty token", status: http.StatusOK, body: `{"access_token":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			provider := NewSessionProvider(srv.URL, "client-abc", "203.0.113.7")

			_, err := provider.NewToken(context.Background())
			assert.ErrorIs(t, err, common.ErrProviderFailed)
		})
	}
}
