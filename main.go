package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/esm-hub/internal/cache"
	"github.com/any-hub/esm-hub/internal/config"
	"github.com/any-hub/esm-hub/internal/logging"
	"github.com/any-hub/esm-hub/internal/proxy"
	"github.com/any-hub/esm-hub/internal/resolver"
	"github.com/any-hub/esm-hub/internal/server"
	"github.com/any-hub/esm-hub/internal/server/routes"
	"github.com/any-hub/esm-hub/internal/specifier"
	"github.com/any-hub/esm-hub/internal/upstream"
	"github.com/any-hub/esm-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	resolve     string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["endpoints"] = cfg.Endpoints()
		fields["storage"] = cfg.Global.StoragePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 磁盘缓存 → 上游客户端 → Resolver → Fiber server”顺序，
	// 保证所有请求共享同一个 Resolver，版本索引与请求合并在进程内唯一。
	store, res, err := buildResolver(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化解析器失败: %v\n", err)
		return 1
	}

	if opts.resolve != "" {
		if err := resolveOnce(context.Background(), res, opts.resolve); err != nil {
			fmt.Fprintf(stdErr, "解析失败: %v\n", err)
			return 1
		}
		return 0
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["endpoints"] = cfg.Endpoints()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, store, res, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("esm-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		resolveArg string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ESM_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&resolveArg, "resolve", "", "解析并缓存一个说明符（如 d3@7/+esm）后输出结果并退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ESM_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		resolve:     resolveArg,
	}, nil
}

func buildResolver(cfg *config.Config, logger *logrus.Logger) (cache.Store, *resolver.Resolver, error) {
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, nil, err
	}

	client := upstream.NewClient(upstream.NewHTTPClient(cfg), upstream.Options{
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
	})

	res, err := resolver.New(resolver.Options{
		Store:        store,
		Client:       client,
		Logger:       logger,
		CDNBase:      cfg.Global.CDNBase,
		RegistryBase: cfg.Global.RegistryBase,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, res, nil
}

type resolveOutput struct {
	Specifier string                     `json:"specifier"`
	Path      string                     `json:"path"`
	File      string                     `json:"file"`
	Imports   []resolver.ImportReference `json:"imports"`
}

// resolveOnce 解析说明符、拉取对应模块并打印其直接导入。
func resolveOnce(ctx context.Context, res *resolver.Resolver, spec string) error {
	spec = strings.TrimSpace(spec)
	if value, ok := specifier.FromRequest(spec); ok {
		spec = value
	}

	cachePath, err := res.ResolveImport(ctx, spec)
	if err != nil {
		return err
	}
	filePath, err := res.Populate(ctx, cachePath)
	if err != nil {
		return err
	}
	imports, err := res.ResolveImports(ctx, cachePath)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	return enc.Encode(resolveOutput{
		Specifier: spec,
		Path:      cachePath,
		File:      filePath,
		Imports:   imports,
	})
}

func startHTTPServer(cfg *config.Config, store cache.Store, res *resolver.Resolver, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Modules:    proxy.NewHandler(res, logger, store),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticRoutes(app, res)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
