package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-provider/internal/provider"
	"github.com/any-hub/image-provider/internal/skip"
	"github.com/any-hub/image-provider/internal/source"
)

// ImageProvider describes the delivery facade the HTTP layer depends on. It
// allows injecting fake providers during tests.
type ImageProvider interface {
	RandomImageURL(ctx context.Context, sourceID, baseURL string) (string, error)
	PickRandomImage(ctx context.Context, sourceID string) (provider.Location, error)
	ResolveRedirect(key string) (provider.Location, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Provider   ImageProvider
	ListenPort int
}

const contextKeyRequestID = "_imageprovider_request_id"

// NewApp builds a Fiber application with the request-id middleware and the
// image API routes registered.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("image provider is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	registerImageRoutes(app, opts)

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// renderError 将错误分类映射为 HTTP 状态码与统一的 JSON 错误体。
func renderError(c fiber.Ctx, logger *logrus.Logger, action string, err error) error {
	status, code := classifyError(err)
	fields := logrus.Fields{
		"action":     action,
		"request_id": RequestID(c),
		"status":     status,
		"error_code": code,
	}
	entry := logger.WithFields(fields).WithError(err)
	switch {
	case status >= fiber.StatusInternalServerError && status != fiber.StatusGatewayTimeout:
		entry.Error("request failed")
	case errors.Is(err, context.Canceled):
		entry.Debug("request canceled")
	default:
		entry.Warn("request rejected")
	}

	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": err.Error(),
	})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, skip.ErrNotFound):
		return fiber.StatusNotFound, "skip_not_found"
	case errors.Is(err, provider.ErrNoSources):
		return fiber.StatusNotFound, "no_sources"
	case errors.Is(err, provider.ErrSourceNotFound):
		return fiber.StatusNotFound, "source_not_found"
	case errors.Is(err, source.ErrConfiguration):
		return fiber.StatusBadRequest, "source_misconfigured"
	case errors.Is(err, source.ErrFetch):
		return fiber.StatusBadGateway, "upstream_fetch_failed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.StatusGatewayTimeout, "timeout"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}
