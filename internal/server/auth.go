package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims are carried by operator bearer tokens.
type OperatorClaims struct {
	jwt.RegisteredClaims
}

// contextKeyOperator holds the token subject on authenticated requests.
const contextKeyOperator = "operator"

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. ok is false when the header is missing or malformed.
func bearerToken(c *gin.Context) (token string, ok bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	token = strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader || token == "" {
		return "", false
	}
	return token, true
}

// InternalAuth guards service-to-service routes with a shared secret. An
// unconfigured secret is a server fault (500); a missing or wrong credential
// is 401. Rejected requests never reach the handler.
func InternalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			abort(c, http.StatusInternalServerError, "internal secret is not configured")
			return
		}
		token, ok := bearerToken(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "authorization header is required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			abort(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		c.Next()
	}
}

// OperatorAuth validates an HS256 operator token from the Authorization
// header, or from the token query parameter for clients (EventSource) that
// cannot set headers.
func OperatorAuth(signingKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if signingKey == "" {
			abort(c, http.StatusInternalServerError, "operator signing key is not configured")
			return
		}
		tokenString, ok := bearerToken(c)
		if !ok {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			abort(c, http.StatusUnauthorized, "authorization is required")
			return
		}

		claims, err := ParseToken(signingKey, tokenString)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(contextKeyOperator, claims.Subject)
		c.Next()
	}
}

// IssueToken signs an operator token for subject valid for ttl.
func IssueToken(signingKey, subject string, ttl time.Duration) (string, error) {
	if signingKey == "" {
		return "", fmt.Errorf("server: signing key is required")
	}
	if subject == "" {
		return "", fmt.Errorf("server: subject is required")
	}
	now := time.Now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "switchboard",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingKey))
	if err != nil {
		return "", fmt.Errorf("server: sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates tokenString and returns its claims.
func ParseToken(signingKey, tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(signingKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("server: parse token: %w", err)
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("server: invalid token claims")
	}
	return claims, nil
}
