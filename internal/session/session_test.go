package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"hnsync/internal/credentials"
	"hnsync/pkg/config"
	"hnsync/pkg/kv"
	"hnsync/pkg/logger"
	"hnsync/pkg/portal"
)

const loginHTML = `<html><form id="loginForm"><input name="username"><input type="password" name="password"></form></html>`

// fakePortal 最小门户：登录、首页、工单详情
type fakePortal struct {
	mu          sync.Mutex
	seq         int
	valid       map[string]bool
	logins      int
	homeHits    int
	ordersLogin bool // 工单页总是返回登录页
}

func newFakePortal() *fakePortal {
	return &fakePortal{valid: make(map[string]bool)}
}

func (p *fakePortal) expireAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = make(map[string]bool)
}

func (p *fakePortal) authorized(r *http.Request) bool {
	c, err := r.Cookie("SESSIONID")
	return err == nil && p.valid[c.Value]
}

func (p *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.URL.Path {
	case "/login":
		_ = r.ParseForm()
		if r.PostForm.Get("username") != "tech1" || r.PostForm.Get("password") != "pw" {
			_, _ = w.Write([]byte(loginHTML))
			return
		}
		p.logins++
		p.seq++
		id := fmt.Sprintf("s%d", p.seq)
		p.valid[id] = true
		w.Header().Add("Set-Cookie", "SESSIONID="+id+"; Path=/; HttpOnly")
		w.Header().Set("Location", "/home")
		w.WriteHeader(http.StatusFound)
	case "/home":
		p.homeHits++
		if _, err := r.Cookie("ROUTE"); err != nil {
			w.Header().Add("Set-Cookie", "ROUTE=r1; Path=/")
		}
		if !p.authorized(r) {
			_, _ = w.Write([]byte(loginHTML))
			return
		}
		_, _ = w.Write([]byte(`<html><nav><a href="/schedule">Schedule</a></nav>Dashboard</html>`))
	case "/serviceorder/view":
		if p.ordersLogin || !p.authorized(r) {
			_, _ = w.Write([]byte(loginHTML))
			return
		}
		_, _ = w.Write([]byte(`<html>Order ` + r.URL.Query().Get("id") + `</html>`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type fixture struct {
	portal *fakePortal
	srv    *httptest.Server
	urls   portal.URLs
	store  *kv.MemoryStore
	mgr    *Manager
}

func newFixture(t *testing.T, creds credentials.Source, opts Options) *fixture {
	t.Helper()
	fp := newFakePortal()
	srv := httptest.NewServer(fp)
	t.Cleanup(srv.Close)

	urls := portal.NewURLs(config.PortalConfig{
		BaseURL:          srv.URL,
		LoginPath:        "/login",
		HomePath:         "/home",
		OrderPath:        "/serviceorder/view?id=%s",
		ManualSearchPath: "/serviceorder/search",
	})
	mem := kv.NewMemoryStore()
	return &fixture{
		portal: fp,
		srv:    srv,
		urls:   urls,
		store:  mem,
		mgr:    NewManager(mem, creds, urls, opts, logger.NewNop()),
	}
}

func (f *fixture) open() *Session {
	return f.mgr.Open(portal.NewClient(portal.NewBudget(0, 0), 5*time.Second, "test"), "u1")
}

func TestEnsureSessionCookie_LoginThenCache(t *testing.T) {
	f := newFixture(t, credentials.Static{Username: "tech1", Password: "pw"}, DefaultOptions())
	ctx := context.Background()

	cookie, err := f.open().EnsureSessionCookie(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cookie, "SESSIONID=s1"))
	assert.Contains(t, cookie, "ROUTE=r1")
	assert.Equal(t, 1, f.portal.logins)

	again, err := f.open().EnsureSessionCookie(ctx)
	require.NoError(t, err)
	assert.Equal(t, cookie, again)
	assert.Equal(t, 1, f.portal.logins)
}

func TestEnsureSessionCookie_NoCredentials(t *testing.T) {
	f := newFixture(t, credentials.Static{}, DefaultOptions())

	cookie, err := f.open().EnsureSessionCookie(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cookie)
	assert.Equal(t, 0, f.portal.logins)
}

func TestEnsureSessionCookie_BadPassword(t *testing.T) {
	f := newFixture(t, credentials.Static{Username: "tech1", Password: "wrong"}, DefaultOptions())

	_, err := f.open().EnsureSessionCookie(context.Background())
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestFetch_RefreshesOnceOnLoginPage(t *testing.T) {
	f := newFixture(t, credentials.Static{Username: "tech1", Password: "pw"}, DefaultOptions())
	ctx := context.Background()

	s := f.open()
	_, err := s.EnsureSessionCookie(ctx)
	require.NoError(t, err)

	f.portal.expireAll()

	resp, err := s.Fetch(ctx, f.urls.Order("12345678"))
	require.NoError(t, err)
	assert.Contains(t, resp.Text(), "Order 12345678")
	assert.Equal(t, 2, f.portal.logins)
}

func TestFetch_PersistentLoginPageIsSessionExpired(t *testing.T) {
	f := newFixture(t, credentials.Static{Username: "tech1", Password: "pw"}, DefaultOptions())
	ctx := context.Background()

	s := f.open()
	_, err := s.EnsureSessionCookie(ctx)
	require.NoError(t, err)

	f.portal.mu.Lock()
	f.portal.ordersLogin = true
	f.portal.mu.Unlock()
	_, err = s.Fetch(ctx, f.urls.Order("12345678"))
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestFetch_RefusesOffPortalURL(t *testing.T) {
	f := newFixture(t, credentials.Static{Username: "tech1", Password: "pw"}, DefaultOptions())
	ctx := context.Background()

	hits := atomic.NewInt32(0)
	foreign := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Inc()
	}))
	defer foreign.Close()

	s := f.open()
	_, err := s.EnsureSessionCookie(ctx)
	require.NoError(t, err)
	before := s.Fetcher().Budget().Count()

	_, err = s.Fetch(ctx, foreign.URL+"/collect")
	assert.ErrorIs(t, err, ErrOffPortal)
	assert.Zero(t, hits.Load())
	assert.Equal(t, before, s.Fetcher().Budget().Count())
}

func TestShouldRefresh(t *testing.T) {
	f := newFixture(t, credentials.Static{Username: "tech1", Password: "pw"}, Options{MaxRequests: 3, MaxAge: 10 * time.Minute})
	ctx := context.Background()

	now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	f.mgr.now = func() time.Time { return now }

	s := f.open()
	assert.True(t, s.ShouldRefresh(), "never verified")

	_, err := s.EnsureSessionCookie(ctx)
	require.NoError(t, err)
	assert.False(t, s.ShouldRefresh())

	for i := 0; i < 3; i++ {
		_, err := s.Fetch(ctx, f.urls.Order("1"))
		require.NoError(t, err)
	}
	assert.True(t, s.ShouldRefresh())

	homeBefore := f.portal.homeHits
	_, err = s.Fetch(ctx, f.urls.Order("2"))
	require.NoError(t, err)
	assert.Equal(t, homeBefore+1, f.portal.homeHits, "proactive refresh verifies the cookie")
	assert.False(t, s.ShouldRefresh())

	now = now.Add(10 * time.Minute)
	assert.True(t, s.ShouldRefresh())
}
