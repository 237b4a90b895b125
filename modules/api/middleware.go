package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// localUserID is the fiber locals key carrying the authenticated user ID.
const localUserID = "userID"

// requireAuth validates the bearer access token and stores the user ID in
// the request locals.
func (m *APIModule) requireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Missing Authorization header",
			})
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Authorization header must be a bearer token",
			})
		}

		userID, err := m.auth.VerifyToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid or expired token",
			})
		}

		c.Locals(localUserID, userID)
		return c.Next()
	}
}
