package resolver

import (
	"context"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/esm-hub/internal/rewrite"
	"github.com/any-hub/esm-hub/internal/specifier"
)

// ImportType 区分指向缓存内文件的导入与裸包名导入。
type ImportType string

const (
	ImportLocal  ImportType = "local"
	ImportGlobal ImportType = "global"
)

// ImportMethod 区分静态与运行时导入。
type ImportMethod string

const (
	MethodStatic  ImportMethod = "static"
	MethodDynamic ImportMethod = "dynamic"
)

// ImportReference 是模块的一条直接导入。local 导入的 Name 已解析为缓存路径。
type ImportReference struct {
	Name   string       `json:"name"`
	Type   ImportType   `json:"type"`
	Method ImportMethod `json:"method"`
}

type graphEntry struct {
	done chan struct{}
	refs []ImportReference
}

var javascriptPath = regexp.MustCompile(`(?i)\.(m|c)?js$`)

// ResolveImports 返回 path 处模块的直接导入，结果按路径永久缓存。
// 拉取或解析失败只记录警告并视为没有依赖；仅非法路径与 ctx 取消返回错误。
func (r *Resolver) ResolveImports(ctx context.Context, path string) ([]ImportReference, error) {
	if _, err := specifier.FromCachePath(path); err != nil {
		return nil, err
	}

	r.graphMu.Lock()
	entry, ok := r.graph[path]
	if !ok {
		entry = &graphEntry{done: make(chan struct{})}
		r.graph[path] = entry
		go func() {
			defer close(entry.done)
			entry.refs = r.discoverImports(context.WithoutCancel(ctx), path)
		}()
	}
	r.graphMu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-entry.done:
		return entry.refs, nil
	}
}

func (r *Resolver) discoverImports(ctx context.Context, cachePath string) []ImportReference {
	refs, err := r.readImports(ctx, cachePath)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"action": "import_graph",
			"path":   cachePath,
		}).WithError(err).Warn("unable to fetch or parse")
		return []ImportReference{}
	}
	return refs
}

func (r *Resolver) readImports(ctx context.Context, cachePath string) ([]ImportReference, error) {
	if _, err := r.Populate(ctx, cachePath); err != nil {
		return nil, err
	}
	if !javascriptPath.MatchString(cachePath) {
		return []ImportReference{}, nil
	}

	result, err := r.store.Get(ctx, cachePath)
	if err != nil {
		return nil, err
	}
	defer result.Reader.Close()

	source, err := io.ReadAll(result.Reader)
	if err != nil {
		return nil, err
	}
	imports, err := rewrite.FindImports(ctx, source)
	if err != nil {
		return nil, err
	}

	type key struct {
		name   string
		method ImportMethod
	}
	seen := make(map[key]struct{}, len(imports))
	refs := make([]ImportReference, 0, len(imports))
	for _, imp := range imports {
		ref := ImportReference{Name: imp.Specifier, Type: ImportGlobal, Method: MethodStatic}
		if imp.Kind.Dynamic() {
			ref.Method = MethodDynamic
		}
		if isPathImport(imp.Specifier) {
			ref.Type = ImportLocal
			ref.Name = resolvePath(cachePath, imp.Specifier)
		}
		k := key{ref.Name, ref.Method}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		refs = append(refs, ref)
	}
	return refs, nil
}

func isPathImport(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || strings.HasPrefix(spec, "/")
}

// resolvePath 以 source 所在目录为基准解析相对导入。
func resolvePath(source, target string) string {
	if strings.HasPrefix(target, "/") {
		return target
	}
	return path.Join(path.Dir(source), target)
}
