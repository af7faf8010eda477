package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/map-annotator/backend/internal/models"
)

// Context keys set by the middleware for downstream handlers.
const (
	ContextUserID = "userID"
	ContextEmail  = "userEmail"
)

// Middleware rejects requests without a valid bearer token and records the
// authenticated user in the gin context.
func Middleware(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "unauthorized",
				Message: "missing or malformed Authorization header",
			})
			return
		}

		claims, err := s.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "unauthorized",
				Message: "invalid token",
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextEmail, claims.Email)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
