// ABOUTME: HTTP client for the external Identity Authority
// ABOUTME: Legacy credential login plus identity-token issue and refresh

package authority

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Refresh errors. Both are recovered by the resolver via fallback to the
// public identity; they never surface to a client.
var (
	// ErrIdentityInvalid means the authority rejected the presented
	// token pair as no longer valid.
	ErrIdentityInvalid = errors.New("identity token rejected by authority")

	// ErrIdentityResponse means the authority answered in an
	// unexpected way (or not at all).
	ErrIdentityResponse = errors.New("unexpected identity authority response")
)

// Cookie names carried on the authority's login response.
const (
	AuthCookieName     = "auth-token"
	IdentityCookieName = "edi-token"
)

// LoginError is an authentication rejection from the authority, carrying
// the HTTP status the gateway must relay.
type LoginError struct {
	Status  int
	Message string
}

func (e *LoginError) Error() string {
	return e.Message
}

// TokenPair is the session/identity token pair issued by the authority.
type TokenPair struct {
	// AuthToken is the signed external session token.
	AuthToken string

	// IdentityToken is the opaque identity token.
	IdentityToken string
}

// Client talks to the Identity Authority. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// Options configures a Client.
type Options struct {
	// BaseURL is the authority's base URL.
	BaseURL string

	// APIKey authorizes identity-token issuance.
	APIKey string

	// CAFile is an optional PEM truststore for the authority's TLS
	// endpoint. A missing file logs a warning and keeps system roots.
	CAFile string

	// Timeout bounds each authority call. Zero means no client timeout
	// (the per-request context still applies).
	Timeout time.Duration

	Logger *slog.Logger
}

// New creates an authority client from the given options.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("parsing authority URL: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.CAFile != "" {
		pool, err := loadTruststore(opts.CAFile)
		if err != nil {
			logger.Warn("truststore unavailable, using system roots", "ca_file", opts.CAFile, "error", err)
		} else {
			transport.TLSClientConfig = &tls.Config{RootCAs: pool}
		}
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		logger: logger,
	}, nil
}

// loadTruststore builds a certificate pool from a PEM bundle on disk.
func loadTruststore(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}

// Login performs a legacy credential login by forwarding the client's
// Authorization header. On success both tokens are read from the response
// cookies. Rejections map to a *LoginError with a fixed message; a
// transport failure (for example, certificate validation) maps to a 500
// *LoginError since it is a server-side fault, not a bad credential.
func (c *Client) Login(ctx context.Context, authorization string) (TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/login/pasta", nil)
	if err != nil {
		return TokenPair{}, fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Authorization", authorization)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("authority login transport failure", "url", c.baseURL, "error", err)
		return TokenPair{}, &LoginError{
			Status:  http.StatusInternalServerError,
			Message: fmt.Sprintf("Internal Server Error - connection to %q failed", c.baseURL),
		}
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		lerr := mapLoginStatus(resp.StatusCode)
		c.logger.Error("authority login rejected", "status", resp.StatusCode, "message", lerr.Message)
		return TokenPair{}, lerr
	}

	pair := TokenPair{}
	for _, cookie := range resp.Cookies() {
		switch cookie.Name {
		case AuthCookieName:
			pair.AuthToken = cookie.Value
		case IdentityCookieName:
			pair.IdentityToken = cookie.Value
		}
	}
	if pair.AuthToken == "" || pair.IdentityToken == "" {
		return TokenPair{}, &LoginError{
			Status:  http.StatusInternalServerError,
			Message: "authority login response is missing token cookies",
		}
	}

	return pair, nil
}

// mapLoginStatus converts an authority login status into a fixed cause.
func mapLoginStatus(status int) *LoginError {
	switch status {
	case http.StatusBadRequest:
		return &LoginError{Status: status, Message: "Basic Authorization header not sent in request"}
	case http.StatusUnauthorized:
		return &LoginError{Status: status, Message: "User or password is not correct and cannot be authenticated"}
	case http.StatusTeapot:
		return &LoginError{Status: status, Message: "User must accept the data policy statement"}
	default:
		return &LoginError{Status: status, Message: fmt.Sprintf("Unrecognized error occurred - response status code %d", status)}
	}
}

// CreateToken issues a fresh identity token for the given profile
// identifier (normally the public profile).
func (c *Client) CreateToken(ctx context.Context, profileID string) (string, error) {
	body, err := json.Marshal(map[string]string{"key": c.apiKey})
	if err != nil {
		return "", fmt.Errorf("encoding token request: %w", err)
	}

	target := c.baseURL + "/auth/v1/token/" + url.PathEscape(profileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityResponse, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token create returned %d", ErrIdentityResponse, resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decoding token response: %v", ErrIdentityResponse, err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("%w: token create response has no token", ErrIdentityResponse)
	}

	return payload.Token, nil
}

// RefreshToken renews an existing token pair. Returns ErrIdentityInvalid
// when the authority rejects the pair and ErrIdentityResponse for any
// other failure.
func (c *Client) RefreshToken(ctx context.Context, authToken, identityToken string) (TokenPair, error) {
	body, err := json.Marshal(map[string]string{
		"pasta-token": authToken,
		"edi-token":   identityToken,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("encoding refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1/token/refresh", bytes.NewReader(body))
	if err != nil {
		return TokenPair{}, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrIdentityResponse, err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return TokenPair{}, fmt.Errorf("%w: refresh returned %d", ErrIdentityInvalid, resp.StatusCode)
	default:
		return TokenPair{}, fmt.Errorf("%w: refresh returned %d", ErrIdentityResponse, resp.StatusCode)
	}

	var payload struct {
		AuthToken     string `json:"pasta-token"`
		IdentityToken string `json:"edi-token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return TokenPair{}, fmt.Errorf("%w: decoding refresh response: %v", ErrIdentityResponse, err)
	}
	if payload.AuthToken == "" || payload.IdentityToken == "" {
		return TokenPair{}, fmt.Errorf("%w: refresh response is missing tokens", ErrIdentityResponse)
	}

	return TokenPair{AuthToken: payload.AuthToken, IdentityToken: payload.IdentityToken}, nil
}

// drain discards and closes a response body so the connection can be
// reused by the pool.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
