package auth

import (
	"github.com/golang-jwt/jwt/v4"
)

// EmailFromIDToken extracts the email claim from an identity token without
// verifying its signature; the value is used only as a display name and
// vault lookup key. Returns "" when the token is absent or unparseable.
func EmailFromIDToken(idToken string) string {
	if idToken == "" {
		return ""
	}
	parser := jwt.Parser{}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	if email, ok := claims["email"].(string); ok {
		return email
	}
	return ""
}
