package validation

import (
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newApp() *fiber.App {
	app := fiber.New()
	handler := func(c *fiber.Ctx) error { return c.SendString(QueryText(c)) }
	app.Post("/", Middleware(Config{MaxQueryLength: 100}), handler)
	app.Post("/api/v1/query", Middleware(Config{MaxQueryLength: 100}), handler)
	return app
}

func TestMiddleware(t *testing.T) {
	form := func(v string) string { return url.Values{"text": {v}}.Encode() }

	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		wantStatus  int
		wantBody    string
	}{
		{"json query", "/api/v1/query", fiber.MIMEApplicationJSON, `{"query":"  How do I launch a streamlit app? "}`, 200, "How do I launch a streamlit app?"},
		{"form text", "/", fiber.MIMEApplicationForm, form("How do I launch a streamlit app?"), 200, "How do I launch a streamlit app?"},
		{"sql words allowed", "/api/v1/query", fiber.MIMEApplicationJSON, `{"query":"How do I select rows?"}`, 200, "How do I select rows?"},
		{"empty", "/api/v1/query", fiber.MIMEApplicationJSON, `{"query":"   "}`, 400, ""},
		{"missing", "/api/v1/query", fiber.MIMEApplicationJSON, `{}`, 400, ""},
		{"too long", "/", fiber.MIMEApplicationForm, form(strings.Repeat("a", 101)), 400, ""},
		{"iframe question", "/", fiber.MIMEApplicationForm, form("How do I embed an <iframe> with st.components.v1.iframe?"), 200, "How do I embed an <iframe> with st.components.v1.iframe?"},
		{"script question", "/api/v1/query", fiber.MIMEApplicationJSON, `{"query":"Can st.markdown render <script> tags?"}`, 200, "Can st.markdown render <script> tags?"},
		{"bad json", "/api/v1/query", fiber.MIMEApplicationJSON, `{"query":`, 400, ""},
		{"content type", "/api/v1/query", fiber.MIMETextPlain, "q", 415, ""},
	}

	app := newApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantBody != "" {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != tt.wantBody {
					t.Errorf("expected body %q, got %q", tt.wantBody, body)
				}
			}
		})
	}
}
