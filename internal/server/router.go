package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/resource-cache/internal/cache"
	"github.com/any-hub/resource-cache/internal/logging"
	"github.com/any-hub/resource-cache/internal/repository"
)

// AppOptions controls the dependencies of the Fiber application.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *repository.Registry
	Index      cache.Index
	Epochs     *EpochClock
	ListenPort int
}

const (
	contextKeyRequestID  = "_resource_cache_request_id"
	contextKeyRepository = "_resource_cache_repository"
)

// NewApp builds a Fiber application with request-id middleware, the
// diagnostics routes and the artifact routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("repository registry is required")
	}
	if opts.Index == nil {
		return nil, errors.New("cache index is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.Epochs == nil {
		opts.Epochs = NewEpochClock()
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		StrictRouting: true,
		BodyLimit:     1 << 30,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &handlers{
		logger:   opts.Logger,
		registry: opts.Registry,
		index:    opts.Index,
		epochs:   opts.Epochs,
	}

	app.Get("/-/epoch", h.currentEpoch)
	app.Post("/-/epoch", h.advanceEpoch)
	app.Get("/-/index", h.dumpIndex)
	app.Get("/-/list/:repo/*", h.list)
	app.Get("/-/list/:repo", h.list)
	app.All("/-/*", func(c fiber.Ctx) error {
		return writeError(c, fiber.StatusNotFound, "unknown_endpoint")
	})

	app.Get("/:repo/*", h.artifact)
	app.Head("/:repo/*", h.artifact)
	app.Put("/:repo/*", h.upload)
	app.All("/*", func(c fiber.Ctx) error {
		return writeError(c, fiber.StatusNotFound, "not_found")
	})

	return app, nil
}

// requestContextMiddleware 生成请求 ID 并在请求结束后记录访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		status := c.Response().StatusCode()
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
		fields := logging.RequestFields(reqID, c.Method(), localString(c, contextKeyRepository), c.Path(), status)
		fields["action"] = "http_request"
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		entry := logger.WithFields(fields)
		if err != nil || status >= fiber.StatusInternalServerError {
			entry.Warn("request_failed")
		} else {
			entry.Debug("request_complete")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	return localString(c, contextKeyRequestID)
}

func localString(c fiber.Ctx, key string) string {
	if value := c.Locals(key); value != nil {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
