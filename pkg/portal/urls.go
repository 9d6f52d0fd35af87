package portal

import (
	"fmt"
	"net/url"
	"strings"

	"hnsync/pkg/config"
)

// URLs 门户地址集合
type URLs struct {
	Base          string
	Login         string
	Home          string
	OrderTemplate string // 含一个 %s
	ManualSearch  string
}

// NewURLs 从配置构造
func NewURLs(cfg config.PortalConfig) URLs {
	base := strings.TrimRight(cfg.BaseURL, "/")
	return URLs{
		Base:          base,
		Login:         base + cfg.LoginPath,
		Home:          base + cfg.HomePath,
		OrderTemplate: base + cfg.OrderPath,
		ManualSearch:  base + cfg.ManualSearchPath,
	}
}

// Order 工单详情页地址
func (u URLs) Order(id string) string {
	return fmt.Sprintf(u.OrderTemplate, url.QueryEscape(id))
}

// Resolve 将链接解析为门户内的绝对地址；站外链接或解析失败返回空串
func (u URLs) Resolve(ref string) string {
	abs := resolve(u.Base+"/", ref)
	if !u.Internal(abs) {
		return ""
	}
	return abs
}

// Internal scheme 与 host 是否和 Base 一致（会话 cookie 只发给门户自身）
func (u URLs) Internal(target string) bool {
	if target == "" {
		return false
	}
	b, err := url.Parse(u.Base)
	if err != nil {
		return false
	}
	t, err := url.Parse(target)
	if err != nil {
		return false
	}
	return strings.EqualFold(b.Scheme, t.Scheme) && strings.EqualFold(b.Host, t.Host)
}

func resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}

// ResolveAgainst 相对 base 解析链接
func ResolveAgainst(base, ref string) string {
	return resolve(base, ref)
}
