// Package auth manages bearer tokens for the record API: probing their
// validity, replacing rejected tokens through an external provider, and
// persisting them so restarts do not force re-authentication.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mossyoak/genfetch/internal/common"
)

// Provider obtains fresh bearer tokens. Interactive acquisition (for example
// driving a browser login) lives behind this interface outside the core.
type Provider interface {
	NewToken(ctx context.Context) (string, error)
}

// SessionProvider requests unauthenticated session tokens from the identity
// host's token endpoint.
type SessionProvider struct {
	http     *resty.Client
	clientID string
	ip       string
}

// NewSessionProvider creates a provider posting to the given identity base
// URL (e.g. https://ident.example.org). If ipAddress is empty the outbound
// interface address is detected automatically.
func NewSessionProvider(identURL, clientID, ipAddress string) *SessionProvider {
	client := resty.New()
	client.SetBaseURL(identURL)
	client.SetTimeout(30 * time.Second)

	if ipAddress == "" {
		ipAddress = outboundIP()
	}

	return &SessionProvider{
		http:     client,
		clientID: clientID,
		ip:       ipAddress,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// NewToken requests a fresh unauthenticated session token. Failure here is
// fatal to the batch: without a token source nothing else can run.
func (p *SessionProvider) NewToken(ctx context.Context) (string, error) {
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetFormData(map[string]string{
			"grant_type": "unauthenticated_session",
			"client_id":  p.clientID,
			"ip_address": p.ip,
		}).
		Post("/cis-web/oauth2/v3/token")
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrProviderFailed, err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("%w: token endpoint returned %d", common.ErrProviderFailed, resp.StatusCode())
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body(), &tr); err != nil {
		return "", fmt.Errorf("%w: bad token response: %v", common.ErrProviderFailed, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", common.ErrProviderFailed)
	}

	return tr.AccessToken, nil
}

// outboundIP finds the local address used for outbound traffic. No packets
// are sent; the dial only resolves a route.
func outboundIP() string {
	conn, err := net.Dial("udp", "198.51.100.1:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer func() { _ = conn.Close() }()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
