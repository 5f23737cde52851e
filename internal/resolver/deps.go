package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/esm-hub/internal/policy"
	"github.com/any-hub/esm-hub/internal/rewrite"
	"github.com/any-hub/esm-hub/internal/specifier"
)

// manifest 只解码依赖声明，字段顺序即范围查找的优先级。
type manifest struct {
	Dependencies     map[string]string `json:"dependencies"`
	DevDependencies  map[string]string `json:"devDependencies"`
	PeerDependencies map[string]string `json:"peerDependencies"`
}

func (m *manifest) rangeOf(name string) (string, bool) {
	for _, deps := range []map[string]string{m.Dependencies, m.DevDependencies, m.PeerDependencies} {
		if rng, ok := deps[name]; ok && rng != "" {
			return rng, true
		}
	}
	return "", false
}

// ResolveImport 将说明符解析为缓存路径。缺省的范围与子路径取自包策略，
// 子路径最终缺省为 +esm。
func (r *Resolver) ResolveImport(ctx context.Context, text string) (string, error) {
	spec := specifier.Parse(text)
	if spec.Name == "" {
		return "", fmt.Errorf("empty package name: %q", text)
	}
	if spec.Range == "" {
		spec.Range = policy.DefaultRange(spec.Name)
	}
	if spec.Path == "" {
		spec.Path = policy.DefaultPath(spec.Name)
	}

	version, err := r.ResolveVersion(ctx, spec.Name, spec.Range)
	if err != nil {
		return "", err
	}
	return specifier.CachePath(spec.Name, version, spec.Path), nil
}

// DependencyResolver 为 path 处模块的 source 生成导入解析函数。
//
// source 中引用的 /npm/ 依赖会按包策略或模块自身 package.json 声明的范围解析；
// 指向自身包的引用与版本目录已存在的引用不参与解析。返回的函数把结果转换为
// 相对 path 的路径。
func (r *Resolver) DependencyResolver(ctx context.Context, path, source string) (rewrite.ResolveFunc, error) {
	own, err := specifier.FromCachePath(path)
	if err != nil {
		return nil, err
	}
	self := specifier.Parse(own)

	imports, err := rewrite.FindImports(ctx, []byte(source))
	if err != nil {
		return nil, err
	}

	pending := r.pendingDependencies(self.Name, imports)
	resolutions := make(map[string]string, len(pending))

	if len(pending) > 0 {
		deps, err := r.readManifest(ctx, self)
		if err != nil {
			return nil, err
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, literal := range pending {
			value, _ := specifier.FromRequest(literal)
			dep := specifier.Parse(value)

			rng, ok := policy.Override(self.Name, dep.Name)
			if !ok {
				rng, ok = deps.rangeOf(dep.Name)
			}
			if !ok {
				continue
			}

			target := specifier.Format(specifier.Specifier{Name: dep.Name, Range: rng, Path: dep.Path})
			g.Go(func() error {
				resolved, err := r.ResolveImport(gctx, target)
				if err != nil {
					return err
				}
				mu.Lock()
				resolutions[literal] = resolved
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return func(spec string) string {
		value, ok := specifier.FromRequest(spec)
		if !ok {
			return spec
		}
		target, ok := resolutions[spec]
		if !ok {
			target = specifier.CachePrefix + value
			if strings.HasSuffix(target, "/"+specifier.EntryMarker) {
				target = strings.TrimSuffix(target, specifier.EntryMarker) + specifier.EntryFile
			}
		}
		return relativePath(path, target)
	}, nil
}

// pendingDependencies 返回需要解析的 /npm/ 字面量（去重，保持出现顺序）。
func (r *Resolver) pendingDependencies(self string, imports []rewrite.Import) []string {
	seen := make(map[string]struct{}, len(imports))
	var pending []string
	for _, imp := range imports {
		value, ok := specifier.FromRequest(imp.Specifier)
		if !ok {
			continue
		}
		if _, dup := seen[imp.Specifier]; dup {
			continue
		}
		seen[imp.Specifier] = struct{}{}

		dep := specifier.Parse(value)
		if dep.Name == self {
			continue
		}
		if dep.Range != "" && r.store.Exists(specifier.VersionDir(dep.Name, dep.Range)) {
			continue
		}
		pending = append(pending, imp.Specifier)
	}
	return pending
}

func (r *Resolver) readManifest(ctx context.Context, self specifier.Specifier) (*manifest, error) {
	manifestPath := specifier.CachePath(self.Name, self.Range, "package.json")
	filePath, err := r.Populate(ctx, manifestPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", manifestPath, err)
	}
	return &m, nil
}

var urlScheme = regexp.MustCompile(`^\w+:`)

// relativePath 返回从 source 所在目录指向 target 的相对路径，
// 结果总以 ./ 或 ../ 开头；带协议的 target 原样返回。
func relativePath(source, target string) string {
	if urlScheme.MatchString(target) {
		return target
	}
	from := strings.Split(path.Join("/", source), "/")
	from = from[:len(from)-1]
	to := strings.Split(path.Join("/", target), "/")
	file := to[len(to)-1]
	to = to[:len(to)-1]

	n := min(len(from), len(to))
	i := 0
	for i < n && from[i] == to[i] {
		i++
	}

	prefix := "./"
	if k := len(from) - i; k > 0 {
		prefix = strings.Repeat("../", k)
	}
	return prefix + strings.Join(append(to[i:], file), "/")
}
