package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/esm-hub/internal/specifier"
)

// ModuleHandler serves requests under the cache namespace (/_npm/*). It allows
// injecting fake handlers during tests.
type ModuleHandler interface {
	Handle(fiber.Ctx) error
}

// ModuleHandlerFunc adapts a function to the ModuleHandler interface.
type ModuleHandlerFunc func(fiber.Ctx) error

// Handle makes ModuleHandlerFunc satisfy ModuleHandler.
func (f ModuleHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Modules    ModuleHandler
	ListenPort int
}

const contextKeyRequestID = "_esmhub_request_id"

// NewApp builds a Fiber application that serves the module cache. Diagnostic
// routes under /-/ are registered separately by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Modules == nil {
		return nil, errors.New("module handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	cacheRoute := specifier.CachePrefix + "*"
	app.Get(cacheRoute, opts.Modules.Handle)
	app.Head(cacheRoute, opts.Modules.Handle)

	app.Use(func(c fiber.Ctx) error {
		if isDiagnosticsPath(c.Path()) {
			return c.Next()
		}
		return renderNotFound(c, opts.Logger)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID，并通过 X-Request-ID 回传。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderNotFound(c fiber.Ctx, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action":     "route_lookup",
		"path":       c.Path(),
		"request_id": RequestID(c),
	}).Debug("route unmapped")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "not_found",
	})
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

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
