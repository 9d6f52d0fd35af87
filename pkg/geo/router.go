package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Point 地理编码结果
type Point struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Formatted string  `json:"formatted"`
}

// Key 坐标缓存键（5 位小数）
func (p Point) Key() string {
	return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lon)
}

// RouteInfo 两点间路线
type RouteInfo struct {
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`
}

const metersPerMile = 1609.344

// Miles 距离（英里）
func (r RouteInfo) Miles() float64 {
	return r.DistanceMeters / metersPerMile
}

// Minutes 时长（分钟，四舍五入）
func (r RouteInfo) Minutes() int {
	return int(r.DurationSeconds/60 + 0.5)
}

// Router 地理编码与路线服务；结果为 nil 表示无法解析
type Router interface {
	ResolveAddress(ctx context.Context, text string) (*Point, error)
	GetRouteInfo(ctx context.Context, from, to Point) (*RouteInfo, error)
}

// HTTPRouter Nominatim 风格地理编码 + OSRM 风格路线
type HTTPRouter struct {
	geocodeURL string
	routeURL   string
	userAgent  string
	http       *http.Client
}

// NewHTTPRouter 创建 HTTPRouter
func NewHTTPRouter(geocodeURL, routeURL, userAgent string, timeout time.Duration) *HTTPRouter {
	return &HTTPRouter{
		geocodeURL: strings.TrimRight(geocodeURL, "/"),
		routeURL:   strings.TrimRight(routeURL, "/"),
		userAgent:  userAgent,
		http:       &http.Client{Timeout: timeout},
	}
}

// ResolveAddress 地理编码
func (r *HTTPRouter) ResolveAddress(ctx context.Context, text string) (*Point, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("countrycodes", "us")
	q.Set("q", text)

	body, err := r.get(ctx, r.geocodeURL+"/search?"+q.Encode())
	if err != nil {
		return nil, err
	}

	first := gjson.GetBytes(body, "0")
	if !first.Exists() {
		return nil, nil
	}
	return &Point{
		Lat:       first.Get("lat").Float(),
		Lon:       first.Get("lon").Float(),
		Formatted: first.Get("display_name").String(),
	}, nil
}

// GetRouteInfo 驾车路线
func (r *HTTPRouter) GetRouteInfo(ctx context.Context, from, to Point) (*RouteInfo, error) {
	endpoint := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false",
		r.routeURL, from.Lon, from.Lat, to.Lon, to.Lat)

	body, err := r.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	if res.Get("code").String() != "Ok" {
		return nil, nil
	}
	route := res.Get("routes.0")
	if !route.Exists() {
		return nil, nil
	}
	return &RouteInfo{
		DistanceMeters:  route.Get("distance").Float(),
		DurationSeconds: route.Get("duration").Float(),
	}, nil
}

func (r *HTTPRouter) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build geo request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read geo response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("geo service status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// 4xx 视为无法解析
		return []byte("null"), nil
	}
	return body, nil
}
