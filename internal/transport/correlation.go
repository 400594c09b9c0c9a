package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/didware/did-engine/internal/observability"
)

const correlationHeader = "X-Correlation-ID"

// CorrelationMiddleware tags every request with a correlation id, honoring one
// supplied by the caller, so request-scoped log lines can be tied together.
// The id is echoed back in the response header.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		correlationID := strings.TrimSpace(c.Get(correlationHeader))
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), correlationID))
		c.Set(correlationHeader, correlationID)
		return c.Next()
	}
}
