// Package resolver 将 CDN 风格的 npm 导入解析为锁定版本的缓存路径，拉取并改写
// 模块内容，同时让共享依赖尽量收敛到同一版本。
//
// 一个进程只构建一个 Resolver，并将其传给所有需要解析的组件；版本索引、
// 请求合并表与导入图缓存都归该实例所有，随进程存活，不做淘汰。
package resolver

import (
	"errors"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/esm-hub/internal/cache"
	"github.com/any-hub/esm-hub/internal/logging"
	"github.com/any-hub/esm-hub/internal/upstream"
)

// Options 描述构建 Resolver 所需的依赖。
type Options struct {
	Store  cache.Store
	Client *upstream.Client
	Logger *logrus.Logger

	// CDNBase 提供模块文件：GET <CDNBase>/npm/<specifier>。
	CDNBase string
	// RegistryBase 提供版本解析：GET <RegistryBase>/v1/packages/npm/<name>/resolved。
	RegistryBase string
}

// Resolver 持有缓存、上游客户端以及全部进程级状态。
type Resolver struct {
	store        cache.Store
	client       *upstream.Client
	logger       *logrus.Logger
	cdnBase      string
	registryBase string

	// fetches 以缓存路径为 key，lookups 以版本解析 URL 为 key；
	// 结束后 key 自动移除，失败不会被缓存。
	fetches singleflight.Group
	lookups singleflight.Group

	indexMu     sync.Mutex
	indexLoaded bool
	index       map[string][]*semver.Version

	graphMu sync.Mutex
	graph   map[string]*graphEntry
}

// New 校验依赖并构建 Resolver。
func New(opts Options) (*Resolver, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Client == nil {
		return nil, errors.New("upstream client is required")
	}
	if opts.CDNBase == "" || opts.RegistryBase == "" {
		return nil, errors.New("cdn and registry base urls are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resolver{
		store:        opts.Store,
		client:       opts.Client,
		logger:       logger,
		cdnBase:      strings.TrimSuffix(opts.CDNBase, "/"),
		registryBase: strings.TrimSuffix(opts.RegistryBase, "/"),
		index:        make(map[string][]*semver.Version),
		graph:        make(map[string]*graphEntry),
	}, nil
}

// Store 返回底层缓存，供服务端直接读取已缓存文件。
func (r *Resolver) Store() cache.Store {
	return r.store
}
