package resolver

import (
	"bytes"
	"context"
	"regexp"

	"github.com/any-hub/esm-hub/internal/cache"
	"github.com/any-hub/esm-hub/internal/logging"
	"github.com/any-hub/esm-hub/internal/rewrite"
	"github.com/any-hub/esm-hub/internal/specifier"
)

// 只有精确匹配的 JavaScript 响应会进入改写流程，其余内容按原始字节保存。
var javascriptContentType = regexp.MustCompile(`(?i)^application/javascript(;|$)`)

// Populate 确保缓存路径对应的文件存在于磁盘并返回其绝对路径。
// 已存在的文件直接返回，不访问网络；同一路径的并发调用共享一次拉取。
func (r *Resolver) Populate(ctx context.Context, path string) (string, error) {
	spec, err := specifier.FromCachePath(path)
	if err != nil {
		return "", err
	}

	if filePath, ok := r.cached(path); ok {
		return filePath, nil
	}

	ch := r.fetches.DoChan(path, func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx), path, spec)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Resolver) cached(path string) (string, bool) {
	entry, err := r.store.Stat(path)
	if err != nil {
		return "", false
	}
	return entry.FilePath, true
}

func (r *Resolver) fetch(ctx context.Context, path, spec string) (string, error) {
	// 上一轮合并刚结束时可能已落盘。
	if filePath, ok := r.cached(path); ok {
		return filePath, nil
	}

	url := r.cdnBase + specifier.RequestPrefix + spec
	resp, err := r.client.Get(ctx, url)
	if err != nil {
		return "", err
	}

	body := resp.Body
	if javascriptContentType.MatchString(resp.ContentType) {
		source := string(resp.Body)
		resolve, err := r.DependencyResolver(ctx, path, source)
		if err != nil {
			return "", err
		}
		rewritten, err := rewrite.Rewrite(ctx, source, resolve)
		if err != nil {
			return "", err
		}
		body = []byte(rewritten)
	}

	entry, err := r.store.Put(ctx, path, bytes.NewReader(body), cache.PutOptions{})
	if err != nil {
		r.logger.WithFields(logging.ResolveFields("npm_fetch", spec, path)).
			WithError(err).Error("cache_write_failed")
		return "", err
	}

	r.logger.WithFields(logging.ResolveFields("npm_fetch", spec, path)).Info("npm_cached")
	return entry.FilePath, nil
}
