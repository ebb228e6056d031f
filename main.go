package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/image-hub/internal/config"
	"github.com/any-hub/image-hub/internal/logging"
	"github.com/any-hub/image-hub/internal/server"
	"github.com/any-hub/image-hub/internal/server/routes"
	"github.com/any-hub/image-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
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
	rt, err := config.BuildRuntime(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "解析配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["providers"] = len(cfg.Providers)
		fields["resources"] = len(cfg.Resources)
		fields["buckets"] = config.BucketSchemes(cfg.Buckets)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 磁盘缓存 → 抓取器 → Loader → Fiber server”顺序，
	// 保证所有请求共享同一套缓存与指标实例。
	p, err := buildPipeline(context.Background(), cfg, rt, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化图片流水线失败: %v\n", err)
		return 1
	}
	defer p.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = p.store.Directory()
	fields["allow_network"] = cfg.Global.AllowNetwork
	fields["buckets"] = config.BucketSchemes(cfg.Buckets)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, p, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("image-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMAGE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMAGE_HUB_CONFIG")
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
	}, nil
}

// newHTTPApp 组装 /image 与 /-/ 诊断路由。
func newHTTPApp(cfg *config.Config, p *pipeline, logger *logrus.Logger) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Loader:     p.loader,
		Defaults:       p.defaults,
		ListenPort:     cfg.Global.ListenPort,
		Access:         server.NewAccessPolicy(cfg.Global.ServeSchemes, cfg.Global.FileRoots),
		RequestTimeout: cfg.Global.RequestTimeout.DurationValue(),
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, routes.DiagnosticsOptions{
		Logger:   logger,
		Store:    p.store,
		Admin:    p.loader,
		Gatherer: p.registry,
		Summary:  configSummary(cfg),
	})
	return app, nil
}

func startHTTPServer(cfg *config.Config, p *pipeline, logger *logrus.Logger) error {
	app, err := newHTTPApp(cfg, p, logger)
	if err != nil {
		return err
	}

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
