// Package server hosts the Fiber HTTP service that exposes the module cache.
// It owns the middleware chain (panic recovery, request IDs) and routes
// /_npm/* to an injected ModuleHandler; diagnostics under /-/ live in the
// routes subpackage. Keep exports narrow and accept explicit dependencies.
package server
