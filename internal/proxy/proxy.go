// ABOUTME: Streaming reverse-proxy handler for one upstream service
// ABOUTME: Resolves authentication, translates headers, streams both bodies

package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/edirepository/gatekeeper/internal/resolver"
)

// IdentityResolver is the slice of the authentication resolver the proxy
// depends on.
type IdentityResolver interface {
	Resolve(ctx context.Context, creds resolver.Credentials) (resolver.ResolvedIdentity, error)
}

// Counter is a metrics hook; a nil counter disables counting.
type Counter interface {
	Inc()
}

// Handler proxies one path prefix to one upstream service, wrapping every
// call in the authentication and translation pipeline. Safe for
// concurrent use; the upstream client pool is shared across requests.
type Handler struct {
	name       string
	prefix     string
	target     *url.URL
	client     *http.Client
	resolver   IdentityResolver
	translator *Translator
	logger     *slog.Logger

	authFailures   Counter
	upstreamErrors Counter
}

// HandlerOptions configures a proxy Handler.
type HandlerOptions struct {
	// Name identifies the upstream in logs and metrics ("package", "audit").
	Name string

	// Prefix is the inbound route prefix stripped before forwarding
	// (e.g. "/package").
	Prefix string

	// Target is the upstream base URL.
	Target *url.URL

	// Client is the shared upstream HTTP client.
	Client *http.Client

	Resolver   IdentityResolver
	Translator *Translator
	Logger     *slog.Logger

	AuthFailures   Counter
	UpstreamErrors Counter
}

// NewHandler creates a proxy handler for one upstream.
func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		name:           opts.Name,
		prefix:         strings.TrimRight(opts.Prefix, "/"),
		target:         opts.Target,
		client:         opts.Client,
		resolver:       opts.Resolver,
		translator:     opts.Translator,
		logger:         logger.With("upstream", opts.Name),
		authFailures:   opts.AuthFailures,
		upstreamErrors: opts.UpstreamErrors,
	}
}

// NewUpstreamClient builds the shared HTTP client for upstream calls.
// Redirects pass through to the requesting client untouched.
func NewUpstreamClient(opts ...func(*http.Client)) *http.Client {
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.resolver.Resolve(r.Context(), resolver.CredentialsFromRequest(r))
	if err != nil {
		h.writeAuthFailure(w, err)
		return
	}

	outReq, err := h.buildRequest(r, identity)
	if err != nil {
		h.logger.Error("building upstream request", "error", err)
		writePlain(w, http.StatusInternalServerError, "cannot construct upstream request")
		return
	}

	resp, err := h.client.Do(outReq)
	if err != nil {
		// Upstream connectivity trouble is not recovered; it surfaces
		// as a gateway failure distinct from any authentication error.
		h.logger.Error("upstream request failed",
			"subject", identity.Token.Subject,
			"method", r.Method,
			"url", outReq.URL.String(),
			"error", err)
		if h.upstreamErrors != nil {
			h.upstreamErrors.Inc()
		}
		writePlain(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	respHeaders, err := h.translator.ResponseHeaders(identity, resp)
	if err != nil {
		h.logger.Error("building response headers", "subject", identity.Token.Subject, "error", err)
		writePlain(w, http.StatusInternalServerError, "cannot construct response headers")
		return
	}

	dst := w.Header()
	for name, values := range respHeaders {
		dst[name] = values
	}
	w.WriteHeader(resp.StatusCode)

	// Stream the body back in chunks. A client abort cancels the
	// request context, which tears down the upstream read as well.
	if _, err := io.Copy(flushingWriter{w}, resp.Body); err != nil {
		h.logger.Debug("response stream ended early", "error", err)
	}
}

// buildRequest constructs the outbound request: method and query pass
// through verbatim, the path is slash-collapsed and re-rooted under the
// upstream base, and the inbound body streams straight through.
func (h *Handler) buildRequest(r *http.Request, identity resolver.ResolvedIdentity) (*http.Request, error) {
	// Work on the escaped form so percent-encoded segments survive
	// untouched, then keep Path/RawPath as a consistent pair so the
	// client does not re-escape them.
	escaped := CollapseSlashes(r.URL.EscapedPath())
	escaped = strings.TrimPrefix(escaped, h.prefix)
	if !strings.HasPrefix(escaped, "/") {
		escaped = "/" + escaped
	}
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, fmt.Errorf("unescaping path %q: %w", escaped, err)
	}

	base := strings.TrimRight(h.target.Path, "/")
	outURL := *h.target
	outURL.Path = base + unescaped
	outURL.RawPath = base + escaped
	outURL.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), r.Body)
	if err != nil {
		return nil, err
	}
	outReq.Header = h.translator.RequestHeaders(identity, r)
	outReq.ContentLength = r.ContentLength

	// The original Host header travels with the rest of the request.
	outReq.Host = r.Host

	return outReq, nil
}

// writeAuthFailure converts a resolver rejection into the fixed
// plain-text contract: status code plus "{status}: {message}" body.
func (h *Handler) writeAuthFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "authentication failure"

	var aerr *resolver.AuthError
	if errors.As(err, &aerr) {
		status = aerr.Status
		message = aerr.Message
	}

	h.logger.Error("authentication failed", "status", status, "message", message, "error", err)
	if h.authFailures != nil {
		h.authFailures.Inc()
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%d: %s", status, message)
}

func writePlain(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%d: %s", status, message)
}

// flushingWriter flushes after every chunk so large or slow upstream
// bodies reach the client incrementally instead of sitting in buffers.
type flushingWriter struct {
	w http.ResponseWriter
}

func (fw flushingWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
