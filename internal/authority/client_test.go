// ABOUTME: Tests for the Identity Authority client
// ABOUTME: Uses httptest servers to exercise login, issue, and refresh

package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Options{BaseURL: server.URL, APIKey: "test-key"})
	require.NoError(t, err)
	return client
}

func TestLogin_Success(t *testing.T) {
	var gotAuthorization string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login/pasta", r.URL.Path)
		gotAuthorization = r.Header.Get("Authorization")
		http.SetCookie(w, &http.Cookie{Name: "auth-token", Value: "signed-session-token"})
		http.SetCookie(w, &http.Cookie{Name: "edi-token", Value: "identity-token"})
		w.WriteHeader(http.StatusOK)
	}))

	pair, err := client.Login(context.Background(), "Basic dXNlcjpwYXNz")
	require.NoError(t, err)
	assert.Equal(t, "Basic dXNlcjpwYXNz", gotAuthorization)
	assert.Equal(t, "signed-session-token", pair.AuthToken)
	assert.Equal(t, "identity-token", pair.IdentityToken)
}

func TestLogin_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantStatus int
	}{
		{name: "credentials not sent", status: http.StatusBadRequest, wantStatus: 400},
		{name: "bad credentials", status: http.StatusUnauthorized, wantStatus: 401},
		{name: "policy not accepted", status: http.StatusTeapot, wantStatus: 418},
		{name: "unrecognized", status: http.StatusBadGateway, wantStatus: 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			_, err := client.Login(context.Background(), "Basic abc")
			var lerr *LoginError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, tt.wantStatus, lerr.Status)
			assert.NotEmpty(t, lerr.Message)
		})
	}
}

func TestLogin_MissingCookies(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "auth-token", Value: "only-half-the-pair"})
		w.WriteHeader(http.StatusOK)
	}))

	_, err := client.Login(context.Background(), "Basic abc")
	var lerr *LoginError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, http.StatusInternalServerError, lerr.Status)
}

func TestLogin_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // nothing listening any more

	client, err := New(Options{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "Basic abc")
	var lerr *LoginError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, http.StatusInternalServerError, lerr.Status)
}

func TestCreateToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/v1/token/EDI-public", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-key", body["key"])

		_ = json.NewEncoder(w).Encode(map[string]string{"token": "fresh-identity-token"})
	}))

	tok, err := client.CreateToken(context.Background(), "EDI-public")
	require.NoError(t, err)
	assert.Equal(t, "fresh-identity-token", tok)
}

func TestCreateToken_Failure(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.CreateToken(context.Background(), "EDI-public")
	assert.ErrorIs(t, err, ErrIdentityResponse)
}

func TestRefreshToken_Success(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/v1/token/refresh", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "old-auth", body["pasta-token"])
		assert.Equal(t, "old-identity", body["edi-token"])

		_ = json.NewEncoder(w).Encode(map[string]string{
			"pasta-token": "new-auth",
			"edi-token":   "new-identity",
		})
	}))

	pair, err := client.RefreshToken(context.Background(), "old-auth", "old-identity")
	require.NoError(t, err)
	assert.Equal(t, "new-auth", pair.AuthToken)
	assert.Equal(t, "new-identity", pair.IdentityToken)
}

func TestRefreshToken_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "rejected pair", status: http.StatusUnauthorized, wantErr: ErrIdentityInvalid},
		{name: "forbidden pair", status: http.StatusForbidden, wantErr: ErrIdentityInvalid},
		{name: "authority trouble", status: http.StatusInternalServerError, wantErr: ErrIdentityResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			_, err := client.RefreshToken(context.Background(), "a", "b")
			assert.True(t, errors.Is(err, tt.wantErr), "err = %v", err)
		})
	}
}
