package web

import (
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/keyauth"
)

var errInvalidAdminToken = errors.New("invalid admin token")

// RequireAdminToken rejects requests whose Authorization header is not
// "Bearer <token>". An empty token rejects everything.
func RequireAdminToken(token string) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + fiber.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(_ fiber.Ctx, key string) (bool, error) {
			if token == "" || subtle.ConstantTimeCompare([]byte(key), []byte(token)) != 1 {
				return false, errInvalidAdminToken
			}

			return true, nil
		},
		ErrorHandler: func(c fiber.Ctx, err error) error {
			if errors.Is(err, errInvalidAdminToken) {
				return unauthorized(c, "Invalid admin token")
			}

			return unauthorized(c, "Missing or malformed authorization header")
		},
	})
}
