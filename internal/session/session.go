package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hnsync/internal/credentials"
	"hnsync/internal/store"
	"hnsync/pkg/kv"
	"hnsync/pkg/logger"
	"hnsync/pkg/portal"
)

var (
	// ErrSessionExpired 重新登录后仍返回登录页
	ErrSessionExpired = errors.New("session expired")
	// ErrLoginFailed 登录未获得有效会话
	ErrLoginFailed = errors.New("portal login failed")
	// ErrOffPortal 目标不在门户域名下，不携带会话 cookie 请求
	ErrOffPortal = errors.New("url is outside the portal")
)

// Options 会话参数
type Options struct {
	CookieTTL   time.Duration // 缓存 cookie 有效期
	MaxAge      time.Duration // 距上次验证超过该时长则主动刷新
	MaxRequests int           // 距上次验证超过该请求数则主动刷新
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		CookieTTL:   30 * time.Minute,
		MaxAge:      10 * time.Minute,
		MaxRequests: 20,
	}
}

// cachedCookie 存储格式
type cachedCookie struct {
	Cookie     string    `json:"cookie"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// Manager 会话工厂（无状态，可跨调用共享）
type Manager struct {
	store  kv.Store
	creds  credentials.Source
	urls   portal.URLs
	opts   Options
	logger logger.Logger
	now    func() time.Time
}

// NewManager 创建会话管理器
func NewManager(kvStore kv.Store, creds credentials.Source, urls portal.URLs, opts Options, log logger.Logger) *Manager {
	def := DefaultOptions()
	if opts.CookieTTL <= 0 {
		opts.CookieTTL = def.CookieTTL
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = def.MaxAge
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = def.MaxRequests
	}
	return &Manager{
		store:  kvStore,
		creds:  creds,
		urls:   urls,
		opts:   opts,
		logger: log,
		now:    time.Now,
	}
}

// Open 为一次同步调用创建会话（计时器与请求计数只属于该调用）
func (m *Manager) Open(fetcher portal.Fetcher, userID string) *Session {
	return &Session{m: m, fetcher: fetcher, userID: userID}
}

// Session 单次调用内的门户会话
type Session struct {
	m       *Manager
	fetcher portal.Fetcher
	userID  string

	cookie     string
	verifiedAt time.Time
	requests   int
}

// Cookie 当前 cookie
func (s *Session) Cookie() string {
	return s.cookie
}

// Fetcher 底层传输
func (s *Session) Fetcher() portal.Fetcher {
	return s.fetcher
}

// EnsureSessionCookie 返回缓存的 cookie，否则登录；无凭据时返回空串
func (s *Session) EnsureSessionCookie(ctx context.Context) (string, error) {
	// 1. 缓存
	if cached, ok := s.loadCached(ctx); ok {
		s.cookie = cached.Cookie
		s.verifiedAt = cached.VerifiedAt
		s.requests = 0
		return s.cookie, nil
	}

	// 2. 登录
	cookie, err := s.authenticate(ctx)
	if errors.Is(err, credentials.ErrNoCredentials) {
		s.m.logger.Warnf(ctx, "[Session] no stored credentials: user=%s", s.userID)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cookie, nil
}

// RefreshIfNeeded 验证当前 cookie，失效则重新登录；失败返回错误
func (s *Session) RefreshIfNeeded(ctx context.Context) (string, error) {
	if s.cookie != "" {
		ok, err := s.verify(ctx, s.cookie)
		if err != nil {
			return "", err
		}
		if ok {
			s.markVerified(ctx, false)
			return s.cookie, nil
		}
		s.m.logger.Infof(ctx, "[Session] cookie rejected by portal, re-authenticating: user=%s", s.userID)
		_ = s.m.store.Delete(ctx, store.SessionKey(s.userID))
	}
	return s.authenticate(ctx)
}

// ShouldRefresh 距上次验证超过时长或请求数阈值
func (s *Session) ShouldRefresh() bool {
	if s.verifiedAt.IsZero() {
		return true
	}
	return s.m.now().Sub(s.verifiedAt) >= s.m.opts.MaxAge || s.requests >= s.m.opts.MaxRequests
}

// NoteRequest 记录一次使用当前 cookie 的请求
func (s *Session) NoteRequest() {
	s.requests++
}

// Fetch 带会话的 GET：主动刷新（失败忽略）、登录页检测后刷新并仅重试一次
func (s *Session) Fetch(ctx context.Context, target string) (*portal.Response, error) {
	if !s.m.urls.Internal(target) {
		return nil, fmt.Errorf("%w: %s", ErrOffPortal, target)
	}

	// 1. 主动刷新
	if s.ShouldRefresh() {
		if _, err := s.RefreshIfNeeded(ctx); err != nil {
			if errors.Is(err, portal.ErrHardLimit) {
				return nil, err
			}
			s.m.logger.Warnf(ctx, "[Session] proactive refresh failed, continuing with current cookie: %v", err)
		}
	}

	// 2. 请求
	resp, err := s.get(ctx, target)
	if err != nil {
		return nil, err
	}
	if !s.isLoginResponse(resp) {
		return resp, nil
	}

	// 3. 被踢回登录页：刷新一次后重试一次
	s.m.logger.Infof(ctx, "[Session] login page received, refreshing session: url=%s", target)
	if _, err := s.RefreshIfNeeded(ctx); err != nil {
		if errors.Is(err, portal.ErrHardLimit) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	resp, err = s.get(ctx, target)
	if err != nil {
		return nil, err
	}
	if s.isLoginResponse(resp) {
		return nil, ErrSessionExpired
	}
	return resp, nil
}

func (s *Session) get(ctx context.Context, target string) (*portal.Response, error) {
	resp, err := s.fetcher.Fetch(ctx, &portal.Request{Method: http.MethodGet, URL: target, Cookie: s.cookie})
	if err != nil {
		return nil, err
	}
	s.NoteRequest()
	return resp, nil
}

// isLoginResponse 登录页或被重定向到登录页
func (s *Session) isLoginResponse(resp *portal.Response) bool {
	if resp.IsRedirect() && s.isLoginURL(resp.Location) {
		return true
	}
	return portal.IsLoginPage(resp.Text())
}

func (s *Session) isLoginURL(location string) bool {
	login, err := url.Parse(s.m.urls.Login)
	if err != nil {
		return false
	}
	loc, err := url.Parse(location)
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimRight(loc.Path, "/"), strings.TrimRight(login.Path, "/"))
}

// authenticate 表单登录，手动跟随一次重定向，合并 cookie 并验证
func (s *Session) authenticate(ctx context.Context) (string, error) {
	username, password, err := s.m.creds.Credentials(ctx, s.userID)
	if err != nil {
		return "", err
	}

	// 1. 提交登录表单
	resp, err := s.fetcher.Fetch(ctx, &portal.Request{
		Method: http.MethodPost,
		URL:    s.m.urls.Login,
		Form:   url.Values{"username": {username}, "password": {password}},
	})
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	setCookies := resp.SetCookies()

	// 2. 302 时手动跟随一次
	if resp.IsRedirect() {
		next := portal.ResolveAgainst(s.m.urls.Login, resp.Location)
		follow, err := s.fetcher.Fetch(ctx, &portal.Request{
			Method: http.MethodGet,
			URL:    next,
			Cookie: portal.CombineCookies(setCookies),
		})
		if err != nil {
			return "", fmt.Errorf("login redirect: %w", err)
		}
		setCookies = append(setCookies, follow.SetCookies()...)
	}

	cookie := portal.CombineCookies(setCookies)
	if cookie == "" {
		return "", fmt.Errorf("%w: no session cookie returned", ErrLoginFailed)
	}

	// 3. 验证
	ok, err := s.verify(ctx, cookie)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: portal rejected credentials", ErrLoginFailed)
	}

	s.cookie = cookie
	s.markVerified(ctx, true)
	s.m.logger.Infof(ctx, "[Session] authenticated: user=%s", s.userID)
	return cookie, nil
}

// verify 访问首页，页面不含密码框/登录标记即为有效
func (s *Session) verify(ctx context.Context, cookie string) (bool, error) {
	resp, err := s.fetcher.Fetch(ctx, &portal.Request{Method: http.MethodGet, URL: s.m.urls.Home, Cookie: cookie})
	if err != nil {
		return false, fmt.Errorf("verify session: %w", err)
	}
	return !s.isLoginResponse(resp), nil
}

// markVerified 重置计时与计数；persist 时写入缓存
func (s *Session) markVerified(ctx context.Context, persist bool) {
	s.verifiedAt = s.m.now()
	s.requests = 0
	if !persist {
		return
	}

	raw, err := json.Marshal(cachedCookie{Cookie: s.cookie, VerifiedAt: s.verifiedAt})
	if err != nil {
		return
	}
	if err := s.m.store.Put(ctx, store.SessionKey(s.userID), raw, s.m.opts.CookieTTL); err != nil {
		s.m.logger.Warnf(ctx, "[Session] cache cookie failed: %v", err)
	}
}

func (s *Session) loadCached(ctx context.Context) (cachedCookie, bool) {
	var c cachedCookie
	raw, err := s.m.store.Get(ctx, store.SessionKey(s.userID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.m.logger.Warnf(ctx, "[Session] read cached cookie failed: %v", err)
		}
		return c, false
	}
	if err := json.Unmarshal(raw, &c); err != nil || c.Cookie == "" {
		return c, false
	}
	return c, true
}
