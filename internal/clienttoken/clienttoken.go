// Package clienttoken issues and verifies the gallery-scoped tokens clients
// present when selecting and approving photos. A token grants access to
// exactly one gallery; there are no client accounts.
package clienttoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shuttersend/gallery-delivery/internal/apperr"
)

// Claims carried by a client token.
type Claims struct {
	GalleryID string `json:"galleryId"`
	ClientID  string `json:"clientId,omitempty"`
	jwt.RegisteredClaims
}

const issuer = "gallery-delivery"

// Issue signs a token granting client access to one gallery for ttl.
func Issue(secret []byte, galleryID, clientID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		GalleryID: galleryID,
		ClientID:  clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing client token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, then checks it is scoped to the
// gallery being accessed. A valid token for a different gallery is rejected
// as forbidden, not unauthorized: the token is fine, the target is not.
func Verify(secret []byte, tokenString, galleryID string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, apperr.Unauthorized("invalid client token", err)
	}

	if claims.GalleryID != galleryID {
		return nil, apperr.Forbidden("token not valid for this gallery")
	}
	return claims, nil
}
