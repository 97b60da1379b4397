package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/resource-cache/internal/cache"
	"github.com/any-hub/resource-cache/internal/logging"
	"github.com/any-hub/resource-cache/internal/repository"
	"github.com/any-hub/resource-cache/internal/resource"
)

// SourceHeader 报告响应正文来自缓存、再验证还是新下载。
const SourceHeader = "X-Resource-Cache-Source"

type handlers struct {
	logger   *logrus.Logger
	registry *repository.Registry
	index    cache.Index
	epochs   *EpochClock
}

func (h *handlers) artifact(c fiber.Ctx) error {
	repo, ok := h.lookup(c)
	if !ok {
		return writeError(c, fiber.StatusNotFound, "repository_unknown")
	}
	artifactPath := c.Params("*")
	if artifactPath == "" || strings.HasSuffix(artifactPath, "/") {
		return writeError(c, fiber.StatusBadRequest, "artifact_path_required")
	}

	artifact, err := repo.Fetch(requestContext(c), h.epochs.Current(), artifactPath)
	if err != nil {
		return h.writeFetchError(c, repo.Name(), artifactPath, err)
	}

	file, err := artifact.Open()
	if err != nil {
		// 正文在返回后被替换或删除，按上游失败处理，下一次请求会重新下载。
		h.logger.WithFields(logging.ResourceFields(repo.Name(), artifact.Key.String(), string(artifact.Source))).
			WithError(err).Warn("artifact_open_failed")
		return writeError(c, fiber.StatusBadGateway, "artifact_unavailable")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Set(SourceHeader, string(artifact.Source))
	if !artifact.Metadata.LastModified.IsZero() {
		c.Set(fiber.HeaderLastModified, artifact.Metadata.LastModified.UTC().Format(http.TimeFormat))
	}
	if artifact.Metadata.ETag != "" {
		c.Set(fiber.HeaderETag, strconv.Quote(artifact.Metadata.ETag))
	}
	if artifact.Digest != "" {
		c.Set("X-Resource-Cache-Digest", artifact.Digest)
	}
	c.Status(fiber.StatusOK)

	if c.Method() == fiber.MethodHead {
		_ = file.Close()
		c.Response().Header.SetContentLength(int(artifact.Size))
		return nil
	}
	return c.SendStream(file, int(artifact.Size))
}

func (h *handlers) upload(c fiber.Ctx) error {
	repo, ok := h.lookup(c)
	if !ok {
		return writeError(c, fiber.StatusNotFound, "repository_unknown")
	}
	artifactPath := c.Params("*")
	if artifactPath == "" || strings.HasSuffix(artifactPath, "/") {
		return writeError(c, fiber.StatusBadRequest, "artifact_path_required")
	}
	body := c.Body()
	if err := repo.Put(requestContext(c), artifactPath, bytes.NewReader(body), int64(len(body))); err != nil {
		return h.writeFetchError(c, repo.Name(), artifactPath, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"repository": repo.Name(),
		"path":       artifactPath,
		"size":       len(body),
	})
}

func (h *handlers) list(c fiber.Ctx) error {
	repo, ok := h.lookup(c)
	if !ok {
		return writeError(c, fiber.StatusNotFound, "repository_unknown")
	}
	dir := c.Params("*")
	names, err := repo.List(requestContext(c), dir)
	if err != nil {
		return h.writeFetchError(c, repo.Name(), dir, err)
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(fiber.Map{
		"repository": repo.Name(),
		"path":       dir,
		"entries":    names,
	})
}

func (h *handlers) dumpIndex(c fiber.Ctx) error {
	entries, err := h.index.Entries(requestContext(c))
	if err != nil {
		h.logger.WithError(err).Error("index_dump_failed")
		return writeError(c, fiber.StatusInternalServerError, "index_unavailable")
	}
	return c.JSON(fiber.Map{
		"epoch":   h.epochs.Current().String(),
		"entries": cache.Views(entries),
	})
}

func (h *handlers) currentEpoch(c fiber.Ctx) error {
	return c.JSON(epochBody(h.epochs.Current()))
}

func (h *handlers) advanceEpoch(c fiber.Ctx) error {
	epoch := h.epochs.Advance()
	h.logger.WithFields(logrus.Fields{
		"action":     "epoch_advance",
		"request_id": RequestID(c),
		"epoch":      epoch.String(),
	}).Info("build_epoch_started")
	return c.JSON(epochBody(epoch))
}

func (h *handlers) lookup(c fiber.Ctx) (*repository.Repository, bool) {
	name := c.Params("repo")
	repo, ok := h.registry.Lookup(name)
	if ok {
		c.Locals(contextKeyRepository, name)
	}
	return repo, ok
}

// writeFetchError 将访问错误映射为 HTTP 状态：不存在为 404，上游与校验失败为 502。
func (h *handlers) writeFetchError(c fiber.Ctx, repo, artifactPath string, err error) error {
	fields := logging.ResourceFields(repo, artifactPath, "")
	fields["request_id"] = RequestID(c)
	switch {
	case resource.IsNotFound(err):
		return writeError(c, fiber.StatusNotFound, "not_found")
	case resource.IsIntegrity(err):
		h.logger.WithFields(fields).WithError(err).Warn("integrity_failed")
		return writeError(c, fiber.StatusBadGateway, "integrity_failed")
	case resource.IsTransport(err):
		h.logger.WithFields(fields).WithError(err).Warn("upstream_failed")
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return writeError(c, fiber.StatusGatewayTimeout, "request_cancelled")
	case errors.Is(err, repository.ErrInvalidPath):
		return writeError(c, fiber.StatusBadRequest, "invalid_path")
	default:
		h.logger.WithFields(fields).WithError(err).Error("request_failed")
		return writeError(c, fiber.StatusInternalServerError, "internal_error")
	}
}

func epochBody(epoch resource.Epoch) fiber.Map {
	return fiber.Map{
		"epoch":      int64(epoch),
		"started_at": epoch.String(),
	}
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
