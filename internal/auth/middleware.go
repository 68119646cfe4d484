package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const principalKey = "auth_principal"

// Principal is the caller behind a validated token.
type Principal struct {
	UserID int64
	Token  string
}

// Middleware rejects requests without a live token and stores the caller's
// Principal on the gin context. Tokens come from an "Authorization: Bearer"
// header; GET requests may pass ?token= instead so download links work when
// opened outside the client.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := requestToken(c.Request)
		if err == nil {
			var userID int64
			userID, err = s.ValidateToken(c.Request.Context(), token)
			if err == nil {
				c.Set(principalKey, Principal{UserID: userID, Token: token})
				c.Next()
				return
			}
		}
		msg := "authorization required"
		switch {
		case errors.Is(err, ErrTokenExpired):
			msg = "session expired"
		case errors.Is(err, ErrInvalidToken):
			msg = "invalid token"
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
	}
}

// PrincipalFrom returns the caller stored by Middleware.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	val, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := val.(Principal)
	return p, ok && p.UserID > 0
}

func requestToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, _ := strings.Cut(header, " ")
		if !strings.EqualFold(scheme, "bearer") {
			return "", ErrInvalidToken
		}
		if token = strings.TrimSpace(token); token == "" {
			return "", ErrTokenRequired
		}
		return token, nil
	}
	if r.Method == http.MethodGet {
		if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
			return token, nil
		}
	}
	return "", ErrTokenRequired
}
