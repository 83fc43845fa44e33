package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/bridgify-labs/tclcore/pkg/apperr"
	"github.com/bridgify-labs/tclcore/pkg/logger"
)

func newTestApp() *fiber.App {
	log := logger.New(logger.Config{})
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler(log)})
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	app := newTestApp()
	app.Use(RequestID())
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PropagatesIncoming(t *testing.T) {
	app := newTestApp()
	app.Use(RequestID())
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestErrorHandler_AppErrorMapsToItsOwnStatus(t *testing.T) {
	app := newTestApp()
	app.Get("/x", func(c *fiber.Ctx) error {
		return apperr.InvalidInput("text", "must be non-empty")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestErrorHandler_GenericErrorMapsTo500WithNoLeakedDetail(t *testing.T) {
	app := newTestApp()
	app.Get("/x", func(c *fiber.Ctx) error {
		return assertFailure
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "boom") {
		t.Fatalf("response leaked internal error detail: %s", body)
	}
}

var assertFailure = &testError{"boom: unexpected internal detail"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestRecover_CatchesPanicAndReturns500(t *testing.T) {
	log := logger.New(logger.Config{})
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(log)})
	app.Use(Recover(log))
	app.Get("/x", func(c *fiber.Ctx) error { panic("boom") })

	resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
