// ABOUTME: Session token codec for the gatekeeper's internal identity record
// ABOUTME: Serializes to a star-delimited string, base64-wrapped for transport

package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Token errors
var (
	ErrMalformedToken = errors.New("malformed auth token")
)

// fieldCount is the number of star-delimited fields in the wire form.
const fieldCount = 4

// Token is the gateway's internal identity record for a single request.
// Tokens are immutable after construction; each authentication attempt
// produces a new instance.
type Token struct {
	// Subject identifies the authenticated principal, or the well-known
	// public identifier when no credential was presented.
	Subject string

	// Groups holds the principal's group/system memberships.
	Groups []string

	// IssuedAt is the creation time, carried as unix milliseconds.
	IssuedAt time.Time

	// TTL is the validity window measured from IssuedAt.
	TTL time.Duration
}

// NewPublic constructs a fresh anonymous token for the given public
// subject and system membership.
func NewPublic(subject, system string, now time.Time, ttl time.Duration) Token {
	return Token{
		Subject:  subject,
		Groups:   []string{system},
		IssuedAt: now,
		TTL:      ttl,
	}
}

// String returns the star-delimited wire form:
// subject*groups*issuedAtMillis*ttlSeconds.
func (t Token) String() string {
	return strings.Join([]string{
		t.Subject,
		strings.Join(t.Groups, ","),
		strconv.FormatInt(t.IssuedAt.UnixMilli(), 10),
		strconv.FormatInt(int64(t.TTL/time.Second), 10),
	}, "*")
}

// Encode returns the base64 transport form of the token.
func (t Token) Encode() string {
	return base64.StdEncoding.EncodeToString([]byte(t.String()))
}

// Parse parses the star-delimited wire form of a token.
// Returns ErrMalformedToken if the string does not carry exactly the
// expected field count.
func Parse(s string) (Token, error) {
	fields := strings.Split(s, "*")
	if len(fields) != fieldCount {
		return Token{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedToken, fieldCount, len(fields))
	}

	issuedAt, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: issued-at %q", ErrMalformedToken, fields[2])
	}

	ttl, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: ttl %q", ErrMalformedToken, fields[3])
	}

	var groups []string
	if fields[1] != "" {
		groups = strings.Split(fields[1], ",")
	}

	return Token{
		Subject:  fields[0],
		Groups:   groups,
		IssuedAt: time.UnixMilli(issuedAt),
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

// Decode parses the base64 transport form of a token.
func Decode(s string) (Token, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return Parse(string(raw))
}

// DecodeExternal parses the payload half of a signed external auth token
// without verifying its signature. Used for tokens arriving over trusted
// transport (authority login and refresh responses).
func DecodeExternal(authToken string) (Token, error) {
	payload, _, ok := strings.Cut(authToken, "-")
	if !ok {
		return Token{}, fmt.Errorf("%w: missing signature separator", ErrMalformedToken)
	}
	return Decode(payload)
}

// Live reports whether the token is within its validity window at the
// given instant. A token is live up to and including IssuedAt+TTL.
func (t Token) Live(now time.Time) bool {
	return !now.After(t.IssuedAt.Add(t.TTL))
}
