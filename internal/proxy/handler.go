// Package proxy 实现 /_npm/* 的服务端处理：缓存命中直接回放磁盘文件，
// 未命中时经 Resolver 拉取、改写并落盘后再回放。
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/esm-hub/internal/cache"
	"github.com/any-hub/esm-hub/internal/logging"
	"github.com/any-hub/esm-hub/internal/server"
	"github.com/any-hub/esm-hub/internal/specifier"
	"github.com/any-hub/esm-hub/internal/upstream"
)

// Populator 确保缓存路径对应的文件已落盘，*resolver.Resolver 满足该接口。
type Populator interface {
	Populate(ctx context.Context, path string) (string, error)
}

// Handler 负责 orchestrate “缓存命中 → 回放 / 未命中 → 拉取改写落盘 → 回放” 的流程。
type Handler struct {
	populator Populator
	logger    *logrus.Logger
	store     cache.Store
}

var _ server.ModuleHandler = (*Handler)(nil)

// NewHandler constructs a module handler with shared populator/logger/store.
func NewHandler(populator Populator, logger *logrus.Logger, store cache.Store) *Handler {
	return &Handler{
		populator: populator,
		logger:    logger,
		store:     store,
	}
}

// Handle 实现 server.ModuleHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	cachePath := path.Clean(c.Path())
	if !strings.HasPrefix(cachePath, specifier.CachePrefix) {
		return h.writeError(c, cachePath, requestID, started, fiber.StatusBadRequest, "invalid_path", nil)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cacheHit := h.store.Exists(cachePath)
	if _, err := h.populator.Populate(ctx, cachePath); err != nil {
		status, code := classifyError(err)
		return h.writeError(c, cachePath, requestID, started, status, code, err)
	}

	result, err := h.store.Get(ctx, cachePath)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return h.writeError(c, cachePath, requestID, started, fiber.StatusNotFound, "not_found", err)
		}
		return h.writeError(c, cachePath, requestID, started, fiber.StatusInternalServerError, "cache_read_failed", err)
	}
	defer result.Reader.Close()
	return h.serveCache(c, result, requestID, cacheHit, started)
}

func (h *Handler) serveCache(
	c fiber.Ctx,
	result *cache.ReadResult,
	requestID string,
	cacheHit bool,
	started time.Time,
) error {
	if contentType := inferContentType(result.Entry.Path); contentType != "" {
		c.Set("Content-Type", contentType)
	} else {
		c.Response().Header.Del("Content-Type")
	}

	length := result.Entry.SizeBytes
	if length > 0 {
		c.Response().Header.SetContentLength(int(length))
	} else {
		c.Response().Header.Del("Content-Length")
	}

	c.Set("Cache-Control", "public, max-age=31536000, immutable")
	c.Set("X-Esm-Hub-Cache-Hit", fmt.Sprintf("%t", cacheHit))

	status := fiber.StatusOK
	c.Status(status)

	if c.Method() == http.MethodHead {
		h.logResult(result.Entry.Path, requestID, c.Method(), status, cacheHit, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logResult(result.Entry.Path, requestID, c.Method(), status, cacheHit, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, cachePath, requestID string, started time.Time, status int, code string, err error) error {
	h.logResult(cachePath, requestID, c.Method(), status, false, started, err)
	payload := fiber.Map{"error": code}
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		payload["upstream"] = statusErr.URL
	}
	return c.Status(status).JSON(payload)
}

func (h *Handler) logResult(
	cachePath string,
	requestID string,
	method string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(requestID, method, cachePath, status, cacheHit)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("request_failed")
		return
	}
	h.logger.WithFields(fields).Info("request_complete")
}

// classifyError 将拉取失败映射为 HTTP 状态码与错误码。
func classifyError(err error) (int, string) {
	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, specifier.ErrInvalidPath), errors.Is(err, cache.ErrInvalidPath):
		return fiber.StatusBadRequest, "invalid_path"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "upstream_timeout"
	case errors.As(err, &statusErr) && statusErr.StatusCode == fiber.StatusNotFound:
		return fiber.StatusNotFound, "not_found"
	default:
		return fiber.StatusBadGateway, "upstream_failed"
	}
}

func inferContentType(cachePath string) string {
	switch strings.ToLower(path.Ext(cachePath)) {
	case ".js", ".mjs", ".cjs":
		return "application/javascript; charset=utf-8"
	case ".json", ".map":
		return "application/json; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".wasm":
		return "application/wasm"
	case "":
		return ""
	}
	return mime.TypeByExtension(path.Ext(cachePath))
}
