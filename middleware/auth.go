package middleware

import (
	"log"
	"strings"

	"plane-wars-server/services"
	"plane-wars-server/utils"

	"github.com/gofiber/fiber/v2"
)

const (
	UserIDKey   = "user_id"
	UsernameKey = "username"
)

// AuthMiddleware requires a valid bearer token and attaches the
// verified identity to the request context.
func AuthMiddleware(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := parseBearer(auth, c)
		if err != nil {
			log.Printf("[AUTH] rejected %s %s: %v", c.Method(), c.Path(), err)
			return utils.Fail(c, err)
		}
		c.Locals(UserIDKey, claims.UserID)
		c.Locals(UsernameKey, claims.Username)
		return c.Next()
	}
}

// OptionalAuth attaches identity when a valid token is present but
// lets unauthenticated requests through for read-only routes such as
// the public room listing.
func OptionalAuth(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := parseBearer(auth, c)
		if err == nil {
			c.Locals(UserIDKey, claims.UserID)
			c.Locals(UsernameKey, claims.Username)
		}
		return c.Next()
	}
}

func parseBearer(auth *services.AuthService, c *fiber.Ctx) (*services.Claims, error) {
	header := c.Get("Authorization")
	if header == "" {
		return nil, utils.NewCodedError(utils.CodeUnauthorized, "missing Authorization header")
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		token = header // raw token without the Bearer prefix
	}
	return auth.ParseToken(token)
}

// UserID reads the verified identity set by AuthMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(UserIDKey).(string)
	return id
}
