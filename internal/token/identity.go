// ABOUTME: Reads the subject claim of the external identity token
// ABOUTME: The token is opaque here; the Identity Authority owns validation

package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IdentitySubject extracts the subject claim from an identity token issued
// by the Identity Authority. The signature is not checked: the gateway
// never validates this token itself, it only needs the subject to decide
// whether the resolved identity is the public profile.
func IdentitySubject(identityToken string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(identityToken, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parsing identity token: %w", err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("reading identity token subject: %w", err)
	}
	return subject, nil
}
