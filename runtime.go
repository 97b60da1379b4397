package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/resource-cache/internal/cache"
	"github.com/any-hub/resource-cache/internal/config"
	"github.com/any-hub/resource-cache/internal/logging"
	"github.com/any-hub/resource-cache/internal/repository"
	"github.com/any-hub/resource-cache/internal/transport"
)

// appRuntime 是各子命令共享的进程级组件：缓存目录、索引与仓库注册表。
type appRuntime struct {
	cfg      *config.Config
	logger   *logrus.Logger
	stager   *cache.Stager
	index    *cache.LevelIndex
	registry *repository.Registry
}

// loadConfigAndLogger 读取配置并初始化日志，失败时已向 stdErr 输出原因。
func loadConfigAndLogger(configPath string) (*config.Config, *logrus.Logger, bool) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return nil, nil, false
	}
	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return nil, nil, false
	}
	return cfg, logger, true
}

// openRuntime 遵循“配置 → 缓存目录 → 索引 → 仓库注册表”的顺序构建组件，
// 并在启动时清理崩溃遗留的暂存文件。
func openRuntime(configPath string) (*appRuntime, error) {
	cfg, logger, ok := loadConfigAndLogger(configPath)
	if !ok {
		return nil, errConfigReported
	}

	stager, err := cache.NewStager(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	if removed, err := stager.SweepOrphans(cfg.Global.OrphanMaxAge.DurationValue()); err != nil {
		logger.WithFields(logging.BaseFields("orphan_sweep", configPath)).WithError(err).Warn("orphan_sweep_failed")
	} else if removed > 0 {
		fields := logging.BaseFields("orphan_sweep", configPath)
		fields["removed"] = removed
		logger.WithFields(fields).Info("orphan_sweep_complete")
	}

	index, err := cache.OpenLevelIndex(cfg.Global.IndexPath, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("打开缓存索引失败: %w", err)
	}

	registry, err := repository.NewRegistry(cfg.Repositories, repository.Deps{
		HTTPClient: transport.NewHTTPClient(cfg.Global.UpstreamTimeout.DurationValue()),
		Index:      index,
		Stager:     stager,
		Logger:     logger,
	})
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("构建仓库注册表失败: %w", err)
	}

	return &appRuntime{
		cfg:      cfg,
		logger:   logger,
		stager:   stager,
		index:    index,
		registry: registry,
	}, nil
}

func (r *appRuntime) Close() {
	if err := r.index.Close(); err != nil {
		r.logger.WithError(err).Warn("index_close_failed")
	}
}

// repository 按名称查找仓库，未知名称时输出可用列表。
func (r *appRuntime) repository(name string) (*repository.Repository, bool) {
	repo, ok := r.registry.Lookup(name)
	if !ok {
		fmt.Fprintf(stdErr, "未知仓库 %q，可用: %v\n", name, r.registry.Names())
	}
	return repo, ok
}
