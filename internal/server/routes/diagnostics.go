package routes

import (
	"context"
	"errors"
	"net/url"
	"sort"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/esm-hub/internal/policy"
	"github.com/any-hub/esm-hub/internal/resolver"
	"github.com/any-hub/esm-hub/internal/specifier"
	"github.com/any-hub/esm-hub/internal/upstream"
)

// Resolver 是诊断接口依赖的解析能力，*resolver.Resolver 满足该接口。
type Resolver interface {
	ResolveImport(ctx context.Context, spec string) (string, error)
	ResolveImports(ctx context.Context, path string) ([]resolver.ImportReference, error)
}

// RegisterDiagnosticRoutes 暴露 /-/ 诊断接口：导入图、说明符解析、包策略与健康检查。
func RegisterDiagnosticRoutes(app *fiber.App, r Resolver) {
	if app == nil || r == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/policies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"policies": encodePolicies(policy.Snapshot())})
	})

	app.Get("/-/imports/*", func(c fiber.Ctx) error {
		raw, err := wildcard(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_path"})
		}
		path := "/" + raw
		refs, err := r.ResolveImports(c.Context(), path)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"path": path, "imports": refs})
	})

	app.Get("/-/resolve/*", func(c fiber.Ctx) error {
		spec, err := wildcard(c)
		if err != nil || spec == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "specifier_required"})
		}
		path, err := r.ResolveImport(c.Context(), spec)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"specifier": spec, "path": path})
	})
}

func wildcard(c fiber.Ctx) (string, error) {
	return url.PathUnescape(c.Params("*"))
}

// writeError 将解析错误映射为状态码与稳定的错误码。
func writeError(c fiber.Ctx, err error) error {
	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, specifier.ErrInvalidPath):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_path"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "timeout"})
	case errors.As(err, &statusErr) && statusErr.StatusCode == fiber.StatusNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "url": statusErr.URL})
	default:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "resolve_failed", "message": err.Error()})
	}
}

type policyPayload struct {
	Package      string            `json:"package"`
	DefaultRange string            `json:"default_range,omitempty"`
	DefaultPath  string            `json:"default_path,omitempty"`
	Overrides    map[string]string `json:"overrides,omitempty"`
}

func encodePolicies(policies map[string]policy.Policy) []policyPayload {
	if len(policies) == 0 {
		return nil
	}
	result := make([]policyPayload, 0, len(policies))
	for name, p := range policies {
		result = append(result, policyPayload{
			Package:      name,
			DefaultRange: p.DefaultRange,
			DefaultPath:  p.DefaultPath,
			Overrides:    p.Overrides,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Package < result[j].Package
	})
	return result
}
