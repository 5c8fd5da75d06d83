package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// QueryLocal is the Locals key holding the sanitized query text.
const QueryLocal = "query_text"

// markupPattern flags queries containing HTML or script markup. Matches are
// logged, not rejected.
var markupPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength      int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware validates the query text of a submission. JSON requests carry
// it in "query", form posts in "text".
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 4000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{
			fiber.MIMEApplicationJSON,
			fiber.MIMEApplicationForm,
			fiber.MIMEMultipartForm,
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		isAPI := strings.HasPrefix(c.Path(), "/api/")
		reject := func(status int, msg string) error {
			if isAPI {
				return c.Status(status).JSON(fiber.Map{"error": msg})
			}
			return c.Status(status).SendString(msg)
		}

		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		allowed := false
		for _, allowedType := range cfg.AllowedContentTypes {
			if strings.HasPrefix(contentType, allowedType) {
				allowed = true
				break
			}
		}
		if !allowed {
			return reject(fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}

		var query string
		if strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return reject(fiber.StatusBadRequest, "Invalid JSON format")
			}
			q, ok := req["query"].(string)
			if !ok {
				return reject(fiber.StatusBadRequest, "Query is required and must be a string")
			}
			query = q
		} else {
			query = c.FormValue("text")
		}

		query = sanitizeString(query)
		if query == "" {
			return reject(fiber.StatusBadRequest, "Query is required")
		}

		if len(query) > cfg.MaxQueryLength {
			return reject(fiber.StatusBadRequest, "Query exceeds maximum length")
		}

		if containsMarkup(query) {
			cfg.Logger.Info("Query contains markup",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
		}

		c.Locals(QueryLocal, query)
		return c.Next()
	}
}

// QueryText returns the validated query, or "" when the middleware did not
// run.
func QueryText(c *fiber.Ctx) string {
	q, _ := c.Locals(QueryLocal).(string)
	return q
}

func containsMarkup(input string) bool {
	return markupPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
