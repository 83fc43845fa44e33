// Package middleware holds the Fiber middleware stack every HTTP route
// runs behind: request IDs, panic recovery, structured request logging,
// and centralized error translation from pkg/apperr into JSON responses.
package middleware

import (
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/bridgify-labs/tclcore/pkg/apperr"
	"github.com/bridgify-labs/tclcore/pkg/logger"
)

// ErrorResponse is the JSON shape every error path returns.
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler centralizes fiber.Ctx error translation: an *apperr.AppError
// maps to its own status/code, a *fiber.Error to its status, anything else
// to a generic 500 with no internal detail leaked to the caller.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("request_id").(string)

		response := ErrorResponse{
			Success:   false,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		var status int
		switch e := err.(type) {
		case *apperr.AppError:
			status = e.Status
			response.Error = ErrorDetail{Code: e.Code, Message: e.Message, Details: e.Details}

			entry := log.WithField("request_id", requestID).WithField("error_code", e.Code).WithError(e.Err)
			if status >= 500 {
				entry.Error("internal error: %s", e.Message)
			} else {
				entry.Warn("client error: %s", e.Message)
			}

		case *fiber.Error:
			status = e.Code
			response.Error = ErrorDetail{Code: mapHTTPStatusToCode(e.Code), Message: e.Message}

		default:
			status = fiber.StatusInternalServerError
			response.Error = ErrorDetail{Code: apperr.CodeInternalError, Message: "an unexpected error occurred"}
			log.WithField("request_id", requestID).WithError(err).Error("unexpected error: %s", err.Error())
		}

		return c.Status(status).JSON(response)
	}
}

// RequestID assigns or propagates an X-Request-ID header for correlating
// a request across logs.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// RequestLogger logs one structured line per completed request.
func RequestLogger(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		requestID, _ := c.Locals("request_id").(string)
		status := c.Response().StatusCode()
		entry := log.WithFields(map[string]any{
			"request_id":  requestID,
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
		})

		switch {
		case status >= 500:
			entry.Error("request failed: %s %s -> %d", c.Method(), c.Path(), status)
		case status >= 400:
			entry.Warn("request error: %s %s -> %d", c.Method(), c.Path(), status)
		default:
			entry.Info("request completed: %s %s -> %d", c.Method(), c.Path(), status)
		}
		return err
	}
}

// Recover turns a panic in a downstream handler into a logged 500 instead
// of tearing down the whole server.
func Recover(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals("request_id").(string)
				log.WithFields(map[string]any{
					"request_id": requestID,
					"panic":      r,
					"path":       c.Path(),
					"method":     c.Method(),
					"stack":      string(debug.Stack()),
				}).Error("panic recovered")

				c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
					Success:   false,
					RequestID: requestID,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
					Error:     ErrorDetail{Code: apperr.CodeInternalError, Message: "an unexpected error occurred"},
				})
			}
		}()
		return c.Next()
	}
}

func mapHTTPStatusToCode(status int) string {
	switch status {
	case 400:
		return apperr.CodeInvalidInput
	case 404:
		return apperr.CodeNotFound
	case 409:
		return apperr.CodeAlreadyInitialized
	case 500:
		return apperr.CodeInternalError
	case 502, 503, 504:
		return apperr.CodeRemoteUnavailable
	default:
		return "UNKNOWN_ERROR"
	}
}
