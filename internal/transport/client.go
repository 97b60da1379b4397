package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/any-hub/resource-cache/internal/resource"
	"github.com/any-hub/resource-cache/internal/version"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回共享 http.Client；timeout<=0 时使用 30s。
// timeout 只约束等待响应头的时间，正文读取由调用方的 ctx 控制，大文件下载不会被截断。
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := defaultTransport.Clone()
	tr.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: tr}
}

// Credentials 是仓库凭证，本包之外不会读取其内容。
type Credentials struct {
	Username string
	Password string
}

// Present 表示是否配置了完整的用户名与密码。
func (c Credentials) Present() bool {
	return c.Username != "" && c.Password != ""
}

// ClientOptions 描述单个仓库的连接参数。
type ClientOptions struct {
	Credentials Credentials
	// Proxy 不为空时覆盖环境变量中的代理设置。
	Proxy *url.URL
}

// Client 在共享 http.Client 之上附加凭证、代理与 Bearer challenge 重试。
type Client struct {
	http *http.Client
	opts ClientOptions
}

// NewClient 基于 base 构造仓库级别的 Client，base 为空时使用 NewHTTPClient(0)。
func NewClient(base *http.Client, opts ClientOptions) *Client {
	if base == nil {
		base = NewHTTPClient(0)
	}
	client := base
	if opts.Proxy != nil {
		transport := http.Transport{}
		if t, ok := base.Transport.(*http.Transport); ok && t != nil {
			transport = *t.Clone()
		}
		transport.Proxy = http.ProxyURL(opts.Proxy)
		cloned := *base
		cloned.Transport = &transport
		client = &cloned
	}
	return &Client{http: client, opts: opts}
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (c *Client) AuthMode() string {
	if c.opts.Credentials.Present() {
		return "credentialed"
	}
	return "anonymous"
}

// Do 发送请求；配置了凭证且上游返回 401/429 时，解析 Bearer challenge 获取 token 后重试一次。
// body 为 nil 表示无请求体，重试前会 Seek 回起点。
func (c *Client) Do(ctx context.Context, method, uri string, body io.ReadSeeker, size int64) (*http.Response, error) {
	resp, err := c.send(ctx, method, uri, body, size, "")
	if err != nil {
		return nil, err
	}
	if !c.shouldRetryAuth(resp.StatusCode) {
		return resp, nil
	}

	challenge, ok := parseBearerChallenge(resp.Header.Values("Www-Authenticate"))
	drainAndClose(resp.Body)

	authHeader := ""
	if ok {
		token, err := c.fetchBearerToken(ctx, challenge)
		if err != nil {
			return nil, &resource.TransportError{URI: uri, StatusCode: resp.StatusCode, Err: err}
		}
		authHeader = "Bearer " + token
	}
	if body != nil {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, &resource.TransportError{URI: uri, Err: fmt.Errorf("rewind request body: %w", err)}
		}
	}
	return c.send(ctx, method, uri, body, size, authHeader)
}

func (c *Client) send(ctx context.Context, method, uri string, body io.ReadSeeker, size int64, overrideAuth string) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		// NopCloser 阻止 net/http 在发送后关闭调用方的文件，重试时仍可 Seek。
		reader = io.NopCloser(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, reader)
	if err != nil {
		return nil, &resource.TransportError{URI: uri, Err: err}
	}
	if body != nil && size >= 0 {
		req.ContentLength = size
	}
	// 显式声明 identity，避免 net/http 透明解压导致长度与摘要无法校验。
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", version.UserAgent())

	if overrideAuth != "" {
		req.Header.Set("Authorization", overrideAuth)
	} else if authHeader := buildCredentialHeader(c.opts.Credentials); authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &resource.TransportError{URI: uri, Err: err}
	}
	return resp, nil
}

func (c *Client) shouldRetryAuth(status int) bool {
	return c.opts.Credentials.Present() && isAuthFailure(status)
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusTooManyRequests
}

func buildCredentialHeader(creds Credentials) string {
	if !creds.Present() {
		return ""
	}
	token := creds.Username + ":" + creds.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

type bearerChallenge struct {
	Realm   string
	Service string
	Scope   string
}

func parseBearerChallenge(values []string) (bearerChallenge, bool) {
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			continue
		}
		params := parseAuthParams(raw[len("Bearer "):])
		challenge := bearerChallenge{
			Realm:   params["realm"],
			Service: params["service"],
			Scope:   params["scope"],
		}
		if challenge.Realm == "" {
			continue
		}
		return challenge, true
	}
	return bearerChallenge{}, false
}

func parseAuthParams(input string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		value := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		params[key] = value
	}
	return params
}

func (c *Client) fetchBearerToken(ctx context.Context, challenge bearerChallenge) (string, error) {
	if challenge.Realm == "" {
		return "", errors.New("bearer realm missing")
	}
	tokenURL, err := url.Parse(challenge.Realm)
	if err != nil {
		return "", fmt.Errorf("invalid bearer realm: %w", err)
	}
	query := tokenURL.Query()
	if challenge.Service != "" {
		query.Set("service", challenge.Service)
	}
	if challenge.Scope != "" {
		query.Set("scope", challenge.Scope)
	}
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", err
	}
	if c.opts.Credentials.Present() {
		req.SetBasicAuth(c.opts.Credentials.Username, c.opts.Credentials.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf(
			"token request failed: status=%d body=%s",
			resp.StatusCode,
			strings.TrimSpace(string(body)),
		)
	}

	var tokenResp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	token := tokenResp.Token
	if token == "" {
		token = tokenResp.AccessToken
	}
	if token == "" {
		return "", errors.New("token response missing token value")
	}
	return token, nil
}

// drainAndClose 读掉少量剩余正文以便连接复用。
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}
