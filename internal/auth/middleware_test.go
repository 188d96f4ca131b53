package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/user-service/pkg/util"
)

type staticVerifier struct {
	claims *Claims
	err    error
}

func (v *staticVerifier) Verify(tokenStr string) (*Claims, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

func testApp(verifier TokenVerifier) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).JSON(fiber.Map{"error": de.Code})
		},
	})
	m := NewMiddleware(verifier)
	app.Get("/protected", m.Handle, func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewInternalError(nil)
		}
		return c.JSON(fiber.Map{"subject": principal.Subject, "username": principal.Username})
	})
	return app
}

func request(t *testing.T, app *fiber.App, authorization string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	app := testApp(&staticVerifier{})
	if resp := request(t, app, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestMiddlewareRejectsMalformedHeader(t *testing.T) {
	app := testApp(&staticVerifier{})
	for _, header := range []string{"Basic abc", "Bearer", "token-without-scheme"} {
		if resp := request(t, app, header); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, resp.StatusCode)
		}
	}
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	app := testApp(&staticVerifier{err: errors.New("expired")})
	if resp := request(t, app, "Bearer bad-token"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestMiddlewareLoadsPrincipal(t *testing.T) {
	claims := &Claims{PreferredUsername: "alice", Email: "alice@example.com"}
	claims.Subject = "ext-1"
	app := testApp(&staticVerifier{claims: claims})

	resp := request(t, app, "Bearer good-token")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMiddlewareWithoutVerifierRejectsAll(t *testing.T) {
	app := testApp(nil)
	if resp := request(t, app, "Bearer anything"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 when verification is not configured, got %d", resp.StatusCode)
	}
}
