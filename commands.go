package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/any-hub/resource-cache/internal/cache"
	"github.com/any-hub/resource-cache/internal/config"
	"github.com/any-hub/resource-cache/internal/fetcher"
	"github.com/any-hub/resource-cache/internal/logging"
	"github.com/any-hub/resource-cache/internal/resource"
	"github.com/any-hub/resource-cache/internal/server"
	"github.com/any-hub/resource-cache/internal/version"
)

// errConfigReported 表示配置错误已经输出，调用方只需返回失败退出码。
var errConfigReported = errors.New("config error reported")

func runCheckConfig(opts cliOptions) int {
	cfg, logger, ok := loadConfigAndLogger(opts.configPath)
	if !ok {
		return exitFailure
	}
	fields := logging.BaseFields("check_config", opts.configPath)
	fields["repositories"] = len(cfg.Repositories)
	fields["credentials"] = config.CredentialModes(cfg.Repositories)
	fields["result"] = "ok"
	logger.WithFields(fields).Info("配置校验通过")
	return exitOK
}

func openOrReport(opts cliOptions) (*appRuntime, int) {
	rt, err := openRuntime(opts.configPath)
	if err != nil {
		if !errors.Is(err, errConfigReported) {
			fmt.Fprintln(stdErr, err.Error())
		}
		return nil, exitFailure
	}
	return rt, exitOK
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runFetch 在同一个构建纪元内并发获取所有路径，逐行输出 来源/路径/本地文件。
func runFetch(opts cliOptions) int {
	rt, code := openOrReport(opts)
	if rt == nil {
		return code
	}
	defer rt.Close()

	repo, ok := rt.repository(opts.args[0])
	if !ok {
		return exitUsage
	}
	paths := opts.args[1:]

	ctx, cancel := signalContext()
	defer cancel()

	epoch := resource.NewEpoch(time.Now())
	results := make([]*fetcher.Artifact, len(paths))
	errs := make([]error, len(paths))

	var group errgroup.Group
	group.SetLimit(rt.cfg.Global.FetchConcurrency)
	for i, p := range paths {
		group.Go(func() error {
			results[i], errs[i] = repo.Fetch(ctx, epoch, p)
			return nil
		})
	}
	_ = group.Wait()

	exit := exitOK
	for i, p := range paths {
		if err := errs[i]; err != nil {
			fmt.Fprintf(stdErr, "%s: %v\n", p, err)
			switch {
			case resource.IsNotFound(err) && exit == exitOK:
				exit = exitNotFound
			case !resource.IsNotFound(err):
				exit = exitFailure
			}
			continue
		}
		fmt.Fprintf(stdOut, "%s\t%s\t%s\n", results[i].Source, p, results[i].Path)
	}
	return exit
}

func runList(opts cliOptions) int {
	rt, code := openOrReport(opts)
	if rt == nil {
		return code
	}
	defer rt.Close()

	repo, ok := rt.repository(opts.args[0])
	if !ok {
		return exitUsage
	}
	ctx, cancel := signalContext()
	defer cancel()

	names, err := repo.List(ctx, opts.args[1])
	if err != nil {
		fmt.Fprintf(stdErr, "列出目录失败: %v\n", err)
		if resource.IsNotFound(err) {
			return exitNotFound
		}
		return exitFailure
	}
	for _, name := range names {
		fmt.Fprintln(stdOut, name)
	}
	return exitOK
}

func runPut(opts cliOptions) int {
	rt, code := openOrReport(opts)
	if rt == nil {
		return code
	}
	defer rt.Close()

	repo, ok := rt.repository(opts.args[0])
	if !ok {
		return exitUsage
	}
	ctx, cancel := signalContext()
	defer cancel()

	if err := repo.Upload(ctx, opts.args[1], opts.args[2]); err != nil {
		fmt.Fprintf(stdErr, "上传失败: %v\n", err)
		if errors.Is(err, os.ErrNotExist) {
			return exitUsage
		}
		return exitFailure
	}
	fmt.Fprintf(stdOut, "uploaded\t%s\n", opts.args[1])
	return exitOK
}

func runIndex(opts cliOptions) int {
	rt, code := openOrReport(opts)
	if rt == nil {
		return code
	}
	defer rt.Close()

	entries, err := rt.index.Entries(context.Background())
	if err != nil {
		fmt.Fprintf(stdErr, "读取索引失败: %v\n", err)
		return exitFailure
	}
	if err := writeIndex(opts.indexFormat, cache.Views(entries)); err != nil {
		fmt.Fprintf(stdErr, "输出索引失败: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// writeIndex 以 table/json/yaml 输出索引条目。
func writeIndex(format string, views []cache.EntryView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(stdOut)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml":
		enc := yaml.NewEncoder(stdOut)
		defer enc.Close()
		return enc.Encode(views)
	default:
		table := tablewriter.NewTable(stdOut)
		table.Header([]string{"Key", "Size", "Last Modified", "Checked At"})
		for _, v := range views {
			if err := table.Append([]string{v.Key, fmt.Sprint(v.Size), v.LastModified, v.CheckedAt}); err != nil {
				return err
			}
		}
		return table.Render()
	}
}

func runServe(opts cliOptions) int {
	rt, code := openOrReport(opts)
	if rt == nil {
		return code
	}
	defer rt.Close()

	port := rt.cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     rt.logger,
		Registry:   rt.registry,
		Index:      rt.index,
		Epochs:     server.NewEpochClock(),
		ListenPort: port,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务初始化失败: %v\n", err)
		return exitFailure
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["repositories"] = rt.registry.Names()
	fields["listen_port"] = port
	fields["credentials"] = config.CredentialModes(rt.cfg.Repositories)
	fields["version"] = version.Full()
	rt.logger.WithFields(fields).Info("配置加载完成")

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	rt.logger.WithFields(logging.BaseFields("listen", opts.configPath)).WithField("port", port).Info("Fiber 服务启动")
	if err := app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return exitFailure
	}
	return exitOK
}
