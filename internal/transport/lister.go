package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// maxListingBytes 限制目录页解析的大小。
const maxListingBytes = 8 << 20

// HTMLLister 解析 Apache/Nexus 风格的目录索引页面。
type HTMLLister struct {
	accessor Accessor
}

var _ Lister = (*HTMLLister)(nil)

// NewHTMLLister 使用 accessor 下载目录页面。
func NewHTMLLister(accessor Accessor) *HTMLLister {
	return &HTMLLister{accessor: accessor}
}

// List 返回目录页面中指向直接子项的链接名，保持页面中的顺序并去重。
func (l *HTMLLister) List(ctx context.Context, uri string) ([]string, error) {
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	resp, err := l.accessor.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	base, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse listing uri: %w", err)
	}
	return parseListing(base, io.LimitReader(resp.Body, maxListingBytes))
}

func parseListing(base *url.URL, body io.Reader) ([]string, error) {
	tokenizer := html.NewTokenizer(body)
	seen := make(map[string]struct{})
	var names []string
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != nil && err != io.EOF {
				return nil, fmt.Errorf("parse listing: %w", err)
			}
			return names, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			if token.Data != "a" {
				continue
			}
			for _, attr := range token.Attr {
				if attr.Key != "href" {
					continue
				}
				name, ok := childName(base, attr.Val)
				if !ok {
					continue
				}
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
}

// childName 返回 href 指向 base 直接子项时的名称。
func childName(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	target := base.ResolveReference(ref)
	if target.Scheme != base.Scheme || target.Host != base.Host {
		return "", false
	}
	if !strings.HasPrefix(target.Path, base.Path) || target.Path == base.Path {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(target.Path, base.Path), "/")
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return "", false
	}
	return name, true
}
