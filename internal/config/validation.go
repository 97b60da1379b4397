package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.FetchConcurrency <= 0 {
		return newFieldError("Global.FetchConcurrency", "必须大于 0")
	}
	if g.OrphanMaxAge.DurationValue() < 0 {
		return newFieldError("Global.OrphanMaxAge", "不能为负数")
	}

	if len(c.Repositories) == 0 {
		return errors.New("至少需要配置一个 Repository")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Repositories {
		repo := &c.Repositories[i]
		if repo.Name == "" {
			return newFieldError("Repository[].Name", "不能为空")
		}
		if err := validateName(repo.Name); err != nil {
			return fmt.Errorf("%s: %w", repositoryField(repo.Name, "Name"), err)
		}
		if _, exists := seenNames[repo.Name]; exists {
			return newFieldError(repositoryField(repo.Name, "Name"), "重复")
		}
		seenNames[repo.Name] = struct{}{}

		if (repo.Username == "") != (repo.Password == "") {
			return newFieldError(repositoryField(repo.Name, "Username/Password"), "必须同时提供或同时留空")
		}
		if err := validateRemoteURL(repo.URL); err != nil {
			return fmt.Errorf("%s: %w", repositoryField(repo.Name, "URL"), err)
		}
		if repo.Proxy != "" {
			if err := validateRemoteURL(repo.Proxy); err != nil {
				return fmt.Errorf("%s: %w", repositoryField(repo.Name, "Proxy"), err)
			}
		}
	}

	return nil
}

// validateName 限制仓库名只能作为单段路径使用，前端以 /<name>/ 路由。
func validateName(name string) error {
	if strings.ContainsAny(name, "/ \\?#") {
		return errors.New("名称不允许包含路径分隔符、空格或 ?#")
	}
	if strings.HasPrefix(name, "-") {
		return errors.New("名称不能以 - 开头")
	}
	return nil
}

func validateRemoteURL(raw string) error {
	if raw == "" {
		return errors.New("缺少远程地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
