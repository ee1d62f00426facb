package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	RecordRequest(method, status string, duration time.Duration)
}

// RequestLogger tags each request with an id, logs it and records metrics.
// Errors returned by later handlers are rendered here so the logged status
// is the one sent to the client.
func RequestLogger(log *zap.Logger, recorder RequestRecorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		id := c.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(HeaderRequestID, id)

		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().Config().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		duration := time.Since(start)
		status := c.Response().StatusCode()
		if recorder != nil {
			recorder.RecordRequest(c.Method(), strconv.Itoa(status), duration)
		}

		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", duration),
		}
		if status >= fiber.StatusInternalServerError {
			log.Warn("request", fields...)
		} else {
			log.Info("request", fields...)
		}
		return nil
	}
}

// ErrorHandler renders errors that escaped the handlers in the same shape
// the handlers use.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return c.Status(StatusFor(err)).JSON(fiber.Map{
		"status": "error",
		"detail": err.Error(),
	})
}
