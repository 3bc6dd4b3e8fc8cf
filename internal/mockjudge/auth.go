package mockjudge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appErr "practiceoj/pkg/errors"
	"practiceoj/pkg/utils/contextkey"
	"practiceoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const userIDContextKey = "user_id"

type tokenClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens for development sessions.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue returns a signed access token for userID.
func (t *TokenIssuer) Issue(userID string) (string, time.Time, error) {
	if len(t.secret) == 0 || userID == "" {
		return "", time.Time{}, appErr.New(appErr.TokenInvalid)
	}
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := tokenClaims{
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, appErr.Wrapf(err, appErr.InternalServerError, "sign token failed")
	}
	return raw, expiresAt, nil
}

// Verify returns the user id carried by a valid access token.
func (t *TokenIssuer) Verify(raw string) (string, error) {
	if raw == "" || len(t.secret) == 0 {
		return "", appErr.New(appErr.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", appErr.New(appErr.TokenExpired)
		}
		return "", appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return "", appErr.New(appErr.TokenInvalid)
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return "", appErr.New(appErr.TokenInvalid)
	}
	if claims.TokenType != "access" || claims.Subject == "" {
		return "", appErr.New(appErr.TokenInvalid)
	}
	return claims.Subject, nil
}

// authMiddleware enforces a valid bearer token and puts the user id in the request context.
func authMiddleware(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractBearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}
		userID, err := tokens.Verify(raw)
		if err != nil {
			response.AbortWithErrorCode(c, appErr.GetCode(err), "")
			return
		}
		c.Set(userIDContextKey, userID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.UserID, userID))
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
