// ABOUTME: Per-request authentication resolution state machine
// ABOUTME: Reconciles cookies and Authorization into a resolved identity

package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/edirepository/gatekeeper/internal/authority"
	"github.com/edirepository/gatekeeper/internal/token"
)

// AuthorityClient is the slice of the Identity Authority the resolver
// depends on.
type AuthorityClient interface {
	Login(ctx context.Context, authorization string) (authority.TokenPair, error)
	CreateToken(ctx context.Context, profileID string) (string, error)
	RefreshToken(ctx context.Context, authToken, identityToken string) (authority.TokenPair, error)
}

// Credentials is what a single request presented for authentication.
type Credentials struct {
	// Authorization is the raw Authorization header value, if any.
	Authorization string

	// AuthCookie is the auth-token cookie value, if any.
	AuthCookie string

	// IdentityCookie is the edi-token cookie value, if any.
	IdentityCookie string
}

// CredentialsFromRequest pulls the credential presentation off a request.
func CredentialsFromRequest(r *http.Request) Credentials {
	creds := Credentials{Authorization: r.Header.Get("Authorization")}
	if c, err := r.Cookie(authority.AuthCookieName); err == nil {
		creds.AuthCookie = c.Value
	}
	if c, err := r.Cookie(authority.IdentityCookieName); err == nil {
		creds.IdentityCookie = c.Value
	}
	return creds
}

// ResolvedIdentity is the terminal output of every resolution path: a
// session token, plus the identity token when one could be obtained.
type ResolvedIdentity struct {
	Token token.Token

	// IdentityToken is empty only when the request carried none and
	// best-effort public issuance also failed.
	IdentityToken string
}

// Config carries the resolver's fixed parameters.
type Config struct {
	// PublicSubject and System describe the anonymous session token;
	// PublicID is the matching authority profile identifier.
	PublicSubject string
	PublicID      string
	System        string

	// TokenTTL is the validity window stamped into public tokens.
	TokenTTL time.Duration

	// PublicKeyPath locates the RSA public key for legacy verification.
	PublicKeyPath string

	// KeyFaultStatus is returned when key material cannot be loaded.
	KeyFaultStatus int

	// DisableRefresh selects legacy local verification for cookie
	// pairs instead of an authority refresh.
	DisableRefresh bool
}

// Resolver turns a credential presentation into a resolved identity.
// It holds no per-request state and is safe for concurrent use.
type Resolver struct {
	authority AuthorityClient
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Resolver.
func New(client AuthorityClient, cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeyFaultStatus == 0 {
		cfg.KeyFaultStatus = http.StatusInternalServerError
	}
	return &Resolver{
		authority: client,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Resolve runs the authentication state machine for one request.
//
// The paths, by credential presentation:
//   - no credentials at all: a fresh public session plus best-effort
//     public identity issuance (issuance failure is logged, not fatal)
//   - Authorization header: legacy delegated login at the authority
//   - exactly one of the two cookies: 400, invalid combination
//   - both cookies: authority refresh (falling back to the public
//     identity on rejection), or local signature verification when
//     refresh is disabled
//
// A client-facing rejection comes back as *AuthError; everything else is
// recovered internally.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (ResolvedIdentity, error) {
	hasAuth := creds.AuthCookie != ""
	hasIdentity := creds.IdentityCookie != ""

	switch {
	case hasAuth != hasIdentity:
		return ResolvedIdentity{}, &AuthError{
			Status:  http.StatusBadRequest,
			Message: "auth-token and edi-token cookies must be present together",
		}

	case !hasAuth:
		if creds.Authorization != "" {
			return r.login(ctx, creds.Authorization)
		}
		return r.public(ctx), nil

	default:
		if r.cfg.DisableRefresh {
			return r.verify(creds)
		}
		return r.refresh(ctx, creds), nil
	}
}

// public constructs the anonymous identity and attempts to obtain a public
// identity token. It never fails: when issuance is unavailable the
// identity token is simply absent.
func (r *Resolver) public(ctx context.Context) ResolvedIdentity {
	resolved := ResolvedIdentity{
		Token: token.NewPublic(r.cfg.PublicSubject, r.cfg.System, r.now(), r.cfg.TokenTTL),
	}

	identityToken, err := r.authority.CreateToken(ctx, r.cfg.PublicID)
	if err != nil {
		r.logger.Warn("public identity token issuance failed",
			"subject", r.cfg.PublicSubject, "error", err)
		return resolved
	}

	resolved.IdentityToken = identityToken
	return resolved
}

// login delegates the Authorization header to the authority and decodes
// the returned session token. The authority's cookie is trusted transport,
// so the signature is not re-verified here.
func (r *Resolver) login(ctx context.Context, authorization string) (ResolvedIdentity, error) {
	pair, err := r.authority.Login(ctx, authorization)
	if err != nil {
		var lerr *authority.LoginError
		if errors.As(err, &lerr) {
			return ResolvedIdentity{}, &AuthError{Status: lerr.Status, Message: lerr.Message, Err: err}
		}
		return ResolvedIdentity{}, &AuthError{
			Status:  http.StatusInternalServerError,
			Message: "authentication service failure",
			Err:     err,
		}
	}

	tok, err := token.DecodeExternal(pair.AuthToken)
	if err != nil {
		r.logger.Error("authority returned an unreadable session token", "error", err)
		return ResolvedIdentity{}, &AuthError{
			Status:  http.StatusInternalServerError,
			Message: "authentication service returned an unreadable session token",
			Err:     err,
		}
	}

	return ResolvedIdentity{Token: tok, IdentityToken: pair.IdentityToken}, nil
}

// refresh renews a presented cookie pair at the authority. Any refresh
// failure degrades to the public identity; this path never raises.
func (r *Resolver) refresh(ctx context.Context, creds Credentials) ResolvedIdentity {
	pair, err := r.authority.RefreshToken(ctx, creds.AuthCookie, creds.IdentityCookie)
	if err != nil {
		if errors.Is(err, authority.ErrIdentityInvalid) || errors.Is(err, authority.ErrIdentityResponse) {
			r.logger.Error("token refresh rejected, downgrading to public identity", "error", err)
		} else {
			r.logger.Error("unexpected refresh failure, downgrading to public identity", "error", err)
		}
		return r.public(ctx)
	}

	tok, err := token.DecodeExternal(pair.AuthToken)
	if err != nil {
		r.logger.Error("refreshed session token is unreadable, downgrading to public identity", "error", err)
		return r.public(ctx)
	}

	return ResolvedIdentity{Token: tok, IdentityToken: pair.IdentityToken}
}

// verify is the legacy cookie path: check the presented session token's
// signature and liveness locally, passing the identity token through.
func (r *Resolver) verify(creds Credentials) (ResolvedIdentity, error) {
	payload, err := token.Verify(r.cfg.PublicKeyPath, creds.AuthCookie)
	switch {
	case errors.Is(err, token.ErrKeyLoad):
		// Configuration fault, not a client fault.
		r.logger.Error("server key material unavailable",
			"key", r.cfg.PublicKeyPath, "status", r.cfg.KeyFaultStatus, "error", err)
		return ResolvedIdentity{}, &AuthError{
			Status:  r.cfg.KeyFaultStatus,
			Message: "server authentication keys unavailable",
			Err:     err,
		}
	case err != nil:
		return ResolvedIdentity{}, &AuthError{
			Status:  http.StatusBadRequest,
			Message: "Invalid authentication token",
			Err:     err,
		}
	}

	tok, err := token.Parse(payload)
	if err != nil {
		return ResolvedIdentity{}, &AuthError{
			Status:  http.StatusBadRequest,
			Message: "Invalid authentication token",
			Err:     err,
		}
	}

	if !tok.Live(r.now()) {
		return ResolvedIdentity{}, &AuthError{
			Status:  http.StatusUnauthorized,
			Message: "Expired authentication token",
			Err:     fmt.Errorf("token for %q expired at %v", tok.Subject, tok.IssuedAt.Add(tok.TTL)),
		}
	}

	return ResolvedIdentity{Token: tok, IdentityToken: creds.IdentityCookie}, nil
}
