package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AuthModeJWT    = "jwt"
	AuthModeHeader = "header"
)

// AuthConfig selects how callers are identified.
// In header mode X-User-Id is trusted as is; use it only behind a trusted proxy or locally.
type AuthConfig struct {
	Mode      string `yaml:"mode"`
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// AuthMiddleware rejects requests without a valid identity and stores the user id for handlers.
func AuthMiddleware(cfg AuthConfig) gin.HandlerFunc {
	secret := []byte(cfg.JWTSecret)
	return func(c *gin.Context) {
		var (
			userID int64
			err    error
		)
		if cfg.Mode == AuthModeHeader {
			userID, err = parseUserID(c.GetHeader(userIDHeader))
		} else {
			userID, err = authenticateBearer(c.GetHeader("Authorization"), secret, cfg.JWTIssuer)
		}
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		setUserID(c, userID)
		c.Next()
	}
}

func authenticateBearer(header string, secret []byte, issuer string) (int64, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return 0, appErr.New(appErr.Unauthorized)
	}
	if len(secret) == 0 {
		return 0, appErr.New(appErr.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, appErr.New(appErr.TokenExpired)
		}
		return 0, appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return 0, appErr.New(appErr.TokenInvalid)
	}
	if issuer != "" && claims.Issuer != issuer {
		return 0, appErr.New(appErr.TokenInvalid)
	}
	if claims.TokenType != "access" {
		return 0, appErr.New(appErr.TokenInvalid)
	}
	return parseUserID(claims.Subject)
}

func parseUserID(raw string) (int64, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || userID <= 0 {
		return 0, appErr.New(appErr.Unauthorized)
	}
	return userID, nil
}
