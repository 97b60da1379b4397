package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有仓库共享同一份缓存目录与索引。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	StoragePath      string   `mapstructure:"StoragePath"`
	IndexPath        string   `mapstructure:"IndexPath"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	FetchConcurrency int      `mapstructure:"FetchConcurrency"`
	OrphanMaxAge     Duration `mapstructure:"OrphanMaxAge"`
}

// RepositoryConfig 描述一个远程仓库：基础地址、代理与凭证。
type RepositoryConfig struct {
	Name     string `mapstructure:"Name"`
	URL      string `mapstructure:"URL"`
	Proxy    string `mapstructure:"Proxy"`
	Username string `mapstructure:"Username"`
	Password string `mapstructure:"Password"`
	// VerifyChecksums 为 false 时只校验长度，不比对源站摘要。
	VerifyChecksums *bool `mapstructure:"VerifyChecksums"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig       `mapstructure:",squash"`
	Repositories []RepositoryConfig `mapstructure:"Repository"`
}

// HasCredentials 表示当前仓库是否配置了完整的凭证。
func (r RepositoryConfig) HasCredentials() bool {
	return r.Username != "" && r.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (r RepositoryConfig) AuthMode() string {
	if r.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// ChecksumsEnabled 返回是否启用摘要校验，未配置时默认启用。
func (r RepositoryConfig) ChecksumsEnabled() bool {
	return r.VerifyChecksums == nil || *r.VerifyChecksums
}

// CredentialModes 返回所有仓库的鉴权模式摘要，例如 central:anonymous。
func CredentialModes(repos []RepositoryConfig) []string {
	if len(repos) == 0 {
		return nil
	}
	result := make([]string, len(repos))
	for i, repo := range repos {
		result[i] = fmt.Sprintf("%s:%s", repo.Name, repo.AuthMode())
	}
	return result
}

// Repository 按名称查找仓库配置。
func (c *Config) Repository(name string) (RepositoryConfig, bool) {
	for _, repo := range c.Repositories {
		if repo.Name == name {
			return repo, true
		}
	}
	return RepositoryConfig{}, false
}
