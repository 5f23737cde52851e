package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/any-hub/esm-hub/internal/logging"
	"github.com/any-hub/esm-hub/internal/specifier"
)

// ErrVersionMissing 表示版本解析接口的响应缺少 version 字段。
var ErrVersionMissing = errors.New("resolved version missing")

type resolvedVersion struct {
	Version string `json:"version"`
}

// ResolveVersion 将 (name, rng) 解析为精确版本，依次尝试：
//
//  1. rng 本身就是精确版本，原样返回；
//  2. 缓存中满足 rng 的最高版本（rng 为空时取最高版本）；
//  3. 远程版本解析接口，同一 URL 的并发请求只发起一次。
func (r *Resolver) ResolveVersion(ctx context.Context, name, rng string) (string, error) {
	if isExact(rng) {
		return rng, nil
	}

	version, ok, err := r.cachedVersion(name, rng)
	if err != nil {
		return "", err
	}
	if ok {
		return version, nil
	}

	lookupURL := r.registryBase + "/v1/packages/npm/" + name + "/resolved"
	if rng != "" {
		lookupURL += "?specifier=" + url.QueryEscape(rng)
	}

	ch := r.lookups.DoChan(lookupURL, func() (any, error) {
		return r.lookup(context.WithoutCancel(ctx), lookupURL, name, rng)
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

func (r *Resolver) lookup(ctx context.Context, lookupURL, name, rng string) (string, error) {
	var body resolvedVersion
	if err := r.client.GetJSON(ctx, lookupURL, &body); err != nil {
		return "", err
	}
	if body.Version == "" {
		return "", fmt.Errorf("%w: %s", ErrVersionMissing, lookupURL)
	}

	r.addVersion(name, body.Version)
	if err := r.store.MkdirAll(specifier.VersionDir(name, body.Version)); err != nil {
		r.logger.WithFields(logging.ResolveFields("npm_resolve", name, body.Version)).
			WithError(err).Warn("version_dir_failed")
	}

	r.logger.WithFields(logging.ResolveFields("npm_resolve", specifier.Format(specifier.Specifier{Name: name, Range: rng}), body.Version)).
		Info("npm_resolved")
	return body.Version, nil
}

// isExact 报告 rng 是否为不带运算符与通配符的完整语义化版本。
func isExact(rng string) bool {
	if rng == "" {
		return false
	}
	_, err := semver.StrictNewVersion(rng)
	return err == nil
}

func (r *Resolver) cachedVersion(name, rng string) (string, bool, error) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	if err := r.loadIndexLocked(); err != nil {
		return "", false, err
	}

	versions := r.index[name]
	if len(versions) == 0 {
		return "", false, nil
	}
	if rng == "" {
		return versions[0].Original(), true, nil
	}

	// latest 等无法解析为约束的范围一律交给远程解析。
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return "", false, nil
	}
	for _, v := range versions {
		if constraint.Check(v) {
			return v.Original(), true, nil
		}
	}
	return "", false, nil
}

// loadIndexLocked 首次调用时扫描 /_npm 下的 name@version 目录（scope 包多一层）。
// 失败时保持未加载状态，下次调用重试。
func (r *Resolver) loadIndexLocked() error {
	if r.indexLoaded {
		return nil
	}

	root := strings.TrimSuffix(specifier.CachePrefix, "/")
	entries, err := r.store.Dirs(root)
	if err != nil {
		return fmt.Errorf("scan version index: %w", err)
	}

	found := make(map[string][]*semver.Version)
	for _, entry := range entries {
		if !strings.HasPrefix(entry, "@") {
			addIndexEntry(found, entry)
			continue
		}
		scoped, err := r.store.Dirs(root + "/" + entry)
		if err != nil {
			return fmt.Errorf("scan version index: %w", err)
		}
		for _, sub := range scoped {
			addIndexEntry(found, entry+"/"+sub)
		}
	}

	for name := range found {
		sortDescending(found[name])
	}
	r.index = found
	r.indexLoaded = true
	return nil
}

// addIndexEntry 记录目录名 name@version；版本不合法的目录被忽略。
func addIndexEntry(index map[string][]*semver.Version, namever string) {
	at := strings.LastIndexByte(namever, '@')
	if at <= 0 {
		return
	}
	v, err := semver.StrictNewVersion(namever[at+1:])
	if err != nil {
		return
	}
	name := namever[:at]
	index[name] = append(index[name], v)
}

func (r *Resolver) addVersion(name, version string) {
	v, err := semver.StrictNewVersion(version)
	if err != nil {
		return
	}

	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	for _, existing := range r.index[name] {
		if existing.Equal(v) {
			return
		}
	}
	r.index[name] = append(r.index[name], v)
	sortDescending(r.index[name])
}

func sortDescending(versions []*semver.Version) {
	sort.Sort(sort.Reverse(semver.Collection(versions)))
}
