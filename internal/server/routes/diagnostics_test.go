package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/esm-hub/internal/policy"
	"github.com/any-hub/esm-hub/internal/resolver"
	"github.com/any-hub/esm-hub/internal/specifier"
	"github.com/any-hub/esm-hub/internal/upstream"
)

type fakeResolver struct {
	imports map[string][]resolver.ImportReference
	paths   map[string]string
	err     error
}

func (f *fakeResolver) ResolveImport(_ context.Context, spec string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.paths[spec], nil
}

func (f *fakeResolver) ResolveImports(_ context.Context, path string) ([]resolver.ImportReference, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.imports[path], nil
}

func newDiagnosticsApp(r Resolver) *fiber.App {
	app := fiber.New()
	RegisterDiagnosticRoutes(app, r)
	return app
}

func getJSON(t *testing.T, app *fiber.App, target string, v any) int {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", target, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			t.Fatalf("decode %s: %v (body=%s)", target, err, string(body))
		}
	}
	return resp.StatusCode
}

func TestImportsEndpoint(t *testing.T) {
	app := newDiagnosticsApp(&fakeResolver{imports: map[string][]resolver.ImportReference{
		"/_npm/d3@7.9.0/_esm.js": {
			{Name: "/_npm/d3-array@3.2.4/_esm.js", Type: resolver.ImportLocal, Method: resolver.MethodStatic},
		},
	}})

	var payload struct {
		Path    string                     `json:"path"`
		Imports []resolver.ImportReference `json:"imports"`
	}
	status := getJSON(t, app, "http://localhost/-/imports/_npm/d3@7.9.0/_esm.js", &payload)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if payload.Path != "/_npm/d3@7.9.0/_esm.js" || len(payload.Imports) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Imports[0].Type != resolver.ImportLocal || payload.Imports[0].Method != resolver.MethodStatic {
		t.Fatalf("unexpected import reference: %+v", payload.Imports[0])
	}
}

func TestResolveEndpoint(t *testing.T) {
	app := newDiagnosticsApp(&fakeResolver{paths: map[string]string{
		"d3@^7/+esm": "/_npm/d3@7.9.0/_esm.js",
	}})

	var payload map[string]string
	status := getJSON(t, app, "http://localhost/-/resolve/d3@%5E7/+esm", &payload)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if payload["specifier"] != "d3@^7/+esm" || payload["path"] != "/_npm/d3@7.9.0/_esm.js" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDiagnosticsErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: /npm/x", specifier.ErrInvalidPath), fiber.StatusBadRequest, "invalid_path"},
		{&upstream.StatusError{URL: "https://cdn/npm/x", StatusCode: 404}, fiber.StatusNotFound, "not_found"},
		{&upstream.StatusError{URL: "https://cdn/npm/x", StatusCode: 503}, fiber.StatusBadGateway, "resolve_failed"},
		{resolver.ErrVersionMissing, fiber.StatusBadGateway, "resolve_failed"},
		{context.DeadlineExceeded, fiber.StatusGatewayTimeout, "timeout"},
	}
	for _, tc := range cases {
		app := newDiagnosticsApp(&fakeResolver{err: tc.err})
		var payload map[string]string
		status := getJSON(t, app, "http://localhost/-/resolve/x@1", &payload)
		if status != tc.status || payload["error"] != tc.code {
			t.Fatalf("error %v mapped to %d %+v", tc.err, status, payload)
		}
	}
}

func TestPoliciesEndpointListsBuiltins(t *testing.T) {
	app := newDiagnosticsApp(&fakeResolver{})

	var payload struct {
		Policies []policyPayload `json:"policies"`
	}
	if status := getJSON(t, app, "http://localhost/-/policies", &payload); status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	found := false
	for i, p := range payload.Policies {
		if i > 0 && payload.Policies[i-1].Package >= p.Package {
			t.Fatalf("policies not sorted: %+v", payload.Policies)
		}
		if p.Package == "arquero" {
			found = p.Overrides["apache-arrow"] == "latest"
		}
	}
	if !found {
		t.Fatalf("arquero override missing: %+v", payload.Policies)
	}
	if _, ok := policy.Fetch("arquero"); !ok {
		t.Fatalf("builtin policies should be registered")
	}
}

func TestHealthz(t *testing.T) {
	app := newDiagnosticsApp(&fakeResolver{})
	var payload map[string]string
	if status := getJSON(t, app, "http://localhost/-/healthz", &payload); status != fiber.StatusOK || payload["status"] != "ok" {
		t.Fatalf("unexpected healthz response: %d %+v", status, payload)
	}
}

func TestRegisterDiagnosticRoutesIgnoresNil(t *testing.T) {
	RegisterDiagnosticRoutes(nil, &fakeResolver{})
	app := fiber.New()
	RegisterDiagnosticRoutes(app, nil)
	resp, err := app.Test(httptest.NewRequest("GET", "http://localhost/-/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("routes should not be registered without a resolver")
	}
}
