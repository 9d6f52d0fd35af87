package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request 门户请求
type Request struct {
	Method string
	URL    string
	Cookie string
	Header http.Header
	Form   url.Values // 非空时以 application/x-www-form-urlencoded 提交
}

// Response 门户响应（重定向不会自动跟随）
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Location   string
	URL        string
}

// Text 响应体文本
func (r *Response) Text() string {
	return string(r.Body)
}

// IsRedirect 是否为 3xx 重定向
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400 && r.Location != ""
}

// ErrStatus 门户返回 4xx / 5xx
var ErrStatus = errors.New("portal error status")

// Err 4xx / 5xx 转换为错误
func (r *Response) Err() error {
	if r.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %d %s", ErrStatus, r.StatusCode, r.URL)
	}
	return nil
}

// SetCookies 所有 Set-Cookie 头
func (r *Response) SetCookies() []string {
	return r.Header.Values("Set-Cookie")
}

// Fetcher 门户传输层
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
	Budget() *Budget
}

// Client 基于 net/http 的 Fetcher 实现
type Client struct {
	http      *http.Client
	budget    *Budget
	userAgent string
}

// NewClient 创建门户客户端
func NewClient(budget *Budget, timeout time.Duration, userAgent string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		budget:    budget,
		userAgent: userAgent,
	}
}

// Budget 当前预算
func (c *Client) Budget() *Budget {
	return c.budget
}

// Fetch 发起请求（先占用预算）
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if err := c.budget.Reserve(); err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
		if method == http.MethodGet {
			method = http.MethodPost
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", req.URL, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if req.Cookie != "" {
		httpReq.Header.Set("Cookie", req.Cookie)
	}
	if c.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer httpResp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, httpResp.Body); err != nil {
		return nil, fmt.Errorf("read body %s: %w", req.URL, err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       buf.Bytes(),
		Location:   httpResp.Header.Get("Location"),
		URL:        req.URL,
	}, nil
}
