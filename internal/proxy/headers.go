// ABOUTME: Header and cookie translation on both legs of a proxied call
// ABOUTME: Injects the session cookie outbound, re-signs it inbound

package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/edirepository/gatekeeper/internal/authority"
	"github.com/edirepository/gatekeeper/internal/resolver"
	"github.com/edirepository/gatekeeper/internal/robot"
	"github.com/edirepository/gatekeeper/internal/token"
)

// RobotHeader tags upstream requests whose User-Agent classified as a
// robot; its value is the raw client-identification string.
const RobotHeader = "Robot"

// RobotCounter is the metrics hook for robot classifications. A nil
// counter disables counting.
type RobotCounter interface {
	Inc()
}

// Translator rewrites headers and cookies between the client and the
// upstream services. One instance serves all requests.
type Translator struct {
	robots         *robot.Detector
	privateKeyPath string

	// publicID and publicSubject identify the anonymous profile; cookies
	// for it are set to expire immediately so browsers do not cache an
	// anonymous session as if persistent.
	publicID      string
	publicSubject string

	robotHits RobotCounter
	logger    *slog.Logger
}

// NewTranslator creates a Translator.
func NewTranslator(robots *robot.Detector, privateKeyPath, publicID, publicSubject string, robotHits RobotCounter, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		robots:         robots,
		privateKeyPath: privateKeyPath,
		publicID:       publicID,
		publicSubject:  publicSubject,
		robotHits:      robotHits,
		logger:         logger,
	}
}

// RequestHeaders builds the outbound header set for an upstream request:
// every inbound header except Cookie is preserved, the resolved session
// is injected as the cookie header, and a robot marker is appended when
// the User-Agent classifies as a robot.
func (t *Translator) RequestHeaders(identity resolver.ResolvedIdentity, r *http.Request) http.Header {
	headers := make(http.Header, len(r.Header)+2)
	for name, values := range r.Header {
		if strings.EqualFold(name, "Cookie") {
			continue
		}
		headers[name] = append([]string(nil), values...)
	}

	cookie := authority.AuthCookieName + "=" + identity.Token.Encode()
	if identity.IdentityToken != "" {
		cookie += ";" + authority.IdentityCookieName + "=" + identity.IdentityToken
	}
	headers.Set("Cookie", cookie)

	if name, matched := t.robots.Classify(r.Header.Get("User-Agent")); matched {
		headers.Set(RobotHeader, name)
		if t.robotHits != nil {
			t.robotHits.Inc()
		}
	}

	return headers
}

// ResponseHeaders builds the client-facing header set from an upstream
// response. The session token is re-signed and set fresh on every
// response; the identity token rides along when present. Anonymous
// identities get Max-Age=0 cookies.
func (t *Translator) ResponseHeaders(identity resolver.ResolvedIdentity, upstream *http.Response) (http.Header, error) {
	headers := upstream.Header.Clone()
	if headers == nil {
		headers = make(http.Header)
	}

	// The gateway owns session cookies; upstream ones do not pass through.
	headers.Del("Set-Cookie")

	authToken, err := token.Sign(t.privateKeyPath, identity.Token.String())
	if err != nil {
		return nil, fmt.Errorf("signing session token: %w", err)
	}

	maxAge := 0
	if t.isPublic(identity) {
		maxAge = -1 // serializes as Max-Age=0
	}

	headers.Add("Set-Cookie", (&http.Cookie{
		Name:     authority.AuthCookieName,
		Value:    authToken,
		HttpOnly: true,
		MaxAge:   maxAge,
	}).String())

	if identity.IdentityToken != "" {
		headers.Add("Set-Cookie", (&http.Cookie{
			Name:     authority.IdentityCookieName,
			Value:    identity.IdentityToken,
			HttpOnly: true,
			MaxAge:   maxAge,
		}).String())
	}

	return headers, nil
}

// isPublic reports whether the resolved identity is the anonymous
// profile. The identity token's subject claim is authoritative when a
// token is present; otherwise the session subject decides.
func (t *Translator) isPublic(identity resolver.ResolvedIdentity) bool {
	if identity.IdentityToken != "" {
		subject, err := token.IdentitySubject(identity.IdentityToken)
		if err != nil {
			t.logger.Warn("cannot read identity token subject", "error", err)
			return identity.Token.Subject == t.publicSubject
		}
		return subject == t.publicID
	}
	return identity.Token.Subject == t.publicSubject
}
