// ABOUTME: Tests for the streaming proxy handler
// ABOUTME: Covers forwarding, failure mapping, and the plain-text contract

package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edirepository/gatekeeper/internal/resolver"
)

// stubResolver implements IdentityResolver with a fixed outcome.
type stubResolver struct {
	identity resolver.ResolvedIdentity
	err      error
}

func (s *stubResolver) Resolve(_ context.Context, _ resolver.Credentials) (resolver.ResolvedIdentity, error) {
	return s.identity, s.err
}

func newTestHandler(t *testing.T, upstreamURL string, res IdentityResolver) *Handler {
	t.Helper()
	privPath, _ := testKeyPair(t)

	target, err := url.Parse(upstreamURL)
	require.NoError(t, err)

	return NewHandler(HandlerOptions{
		Name:       "package",
		Prefix:     "/package",
		Target:     target,
		Client:     NewUpstreamClient(),
		Resolver:   res,
		Translator: newTestTranslator(t, privPath),
	})
}

func TestServeHTTP_ForwardsAndRewrites(t *testing.T) {
	var gotPath, gotQuery, gotCookie, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotCookie = r.Header.Get("Cookie")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	identity := userIdentity()
	h := newTestHandler(t, upstream.URL, &stubResolver{identity: identity})

	req := httptest.NewRequest(http.MethodPost, "/package//foo///bar?rev=3", strings.NewReader("payload-bytes"))
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/126.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	assert.Equal(t, "/foo/bar", gotPath, "prefix stripped, slashes collapsed")
	assert.Equal(t, "rev=3", gotQuery)
	assert.Equal(t, "auth-token="+identity.Token.Encode(), gotCookie)
	assert.Equal(t, "payload-bytes", gotBody)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "auth-token", cookies[0].Name)
}

func TestServeHTTP_EscapedPathPassesThrough(t *testing.T) {
	var gotEscaped, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL, &stubResolver{identity: userIdentity()})

	req := httptest.NewRequest(http.MethodGet, "/package/a%20b/c%2Fd", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/126.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/a%20b/c%2Fd", gotEscaped, "percent escapes forwarded verbatim, not re-encoded")
	assert.Equal(t, "/a b/c/d", gotPath)
}

func TestServeHTTP_ForwardsHostHeader(t *testing.T) {
	var gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL, &stubResolver{identity: userIdentity()})

	req := httptest.NewRequest(http.MethodGet, "/package/x", nil)
	req.Host = "data.example.org"
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/126.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data.example.org", gotHost)
}

func TestServeHTTP_TargetBasePathJoin(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL+"/base/", &stubResolver{identity: userIdentity()})

	req := httptest.NewRequest(http.MethodGet, "/package/x", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/126.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "/base/x", gotPath)
}

func TestServeHTTP_AuthFailureContract(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "invalid combination",
			err:        &resolver.AuthError{Status: 400, Message: "auth-token and edi-token cookies must be present together"},
			wantStatus: 400,
			wantBody:   "400: auth-token and edi-token cookies must be present together",
		},
		{
			name:       "expired",
			err:        &resolver.AuthError{Status: 401, Message: "Expired authentication token"},
			wantStatus: 401,
			wantBody:   "401: Expired authentication token",
		},
		{
			name:       "key fault",
			err:        &resolver.AuthError{Status: 500, Message: "server authentication keys unavailable"},
			wantStatus: 500,
			wantBody:   "500: server authentication keys unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, "http://localhost:1", &stubResolver{err: tt.err})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/package/x", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
		})
	}
}

func TestServeHTTP_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstream.Close() // nothing listening any more

	h := newTestHandler(t, upstream.URL, &stubResolver{identity: userIdentity()})

	req := httptest.NewRequest(http.MethodGet, "/package/x", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/126.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "502: upstream request failed", rec.Body.String())
}

func TestServeHTTP_UpstreamStatusPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such package", http.StatusNotFound)
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL, &stubResolver{identity: userIdentity()})

	req := httptest.NewRequest(http.MethodGet, "/package/missing", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/126.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTP_RedirectsPassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL, &stubResolver{identity: userIdentity()})

	req := httptest.NewRequest(http.MethodGet, "/package/x", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/126.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/elsewhere", rec.Header().Get("Location"))
}

func TestServeHTTP_StreamsLargeBody(t *testing.T) {
	// 4 MiB body, written in chunks; the handler must relay it intact.
	const chunk = "0123456789abcdef"
	const chunks = 4 * 1024 * 1024 / len(chunk)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		for i := 0; i < chunks; i++ {
			_, _ = io.WriteString(w, chunk)
		}
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL, &stubResolver{identity: userIdentity()})

	req := httptest.NewRequest(http.MethodGet, "/package/big", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/126.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chunks*len(chunk), rec.Body.Len())
}

func TestServeHTTP_ClientAbortCancelsUpstream(t *testing.T) {
	upstreamDone := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(upstreamDone)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
			t.Error("upstream request was not cancelled")
		}
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream.URL, &stubResolver{identity: userIdentity()})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/package/slow", nil).WithContext(ctx)
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/126.0")

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel() // simulates the client going away
	}()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	select {
	case <-upstreamDone:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream handler never observed cancellation")
	}
}
