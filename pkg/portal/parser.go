package portal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"hnsync/internal/model"
)

// 仅支持美国格式的日期/时间，其它地区格式按缺失处理

// Link 菜单链接
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

var (
	// 工单链接：/serviceorder/123 或 ...serviceorder...?id=123
	serviceOrderPathPattern  = regexp.MustCompile(`(?i)/service_?orders?/(?:view/|detail/)?(\d{4,})\b`)
	serviceOrderQueryPattern = regexp.MustCompile(`(?i)service_?orders?[^"'\s<>]*?[?&](?:id|soid|orderid)=(\d{4,})\b`)
	// 显式 8 位 id 查询参数
	eightDigitParamPattern = regexp.MustCompile(`(?i)[?&](?:id|soid|orderid|order_id|woid)=(\d{8})\b`)

	nextTextPattern = regexp.MustCompile(`(?i)^\s*(next(\s+page)?|›|»|>|>>)\s*$`)

	passwordFieldPattern = regexp.MustCompile(`(?i)<input[^>]+type\s*=\s*["']?password`)
	loginMarkerPattern   = regexp.MustCompile(`(?i)(please\s+(log|sign)\s*in|id\s*=\s*["']?loginform|session\s+has\s+expired)`)

	labelCleanPattern    = regexp.MustCompile(`[^a-z0-9]+`)
	inlineFieldPattern   = regexp.MustCompile(`(?im)^\s*([A-Za-z][A-Za-z /#\-]{1,40}?)\s*:\s*(.+?)\s*$`)
	cityStateZipPattern  = regexp.MustCompile(`^\s*(.+?)\s*,\s*([A-Za-z]{2})\s*(\d{5}(?:-\d{4})?)?\s*$`)
	durationPattern      = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*(h|hr|hrs|hour|hours|m|min|mins|minutes)?\s*$`)
	clockDurationPattern = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)
)

var (
	dateLayouts = []string{
		"01/02/2006", "1/2/2006", "01/02/06", "1/2/06",
		"2006-01-02", "Jan 2, 2006", "January 2, 2006", "Mon, Jan 2, 2006", "Monday, January 2, 2006",
	}
	clockLayouts = []string{"3:04 PM", "3:04PM", "03:04 PM", "15:04", "3:04:05 PM", "15:04:05"}
)

// ExtractIDs 提取页面中的工单 id（保持出现顺序，去重）
func ExtractIDs(html string) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, re := range []*regexp.Regexp{serviceOrderPathPattern, serviceOrderQueryPattern, eightDigitParamPattern} {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			add(m[1])
		}
	}
	return ids
}

// ExtractMenuLinks 提取导航菜单中的链接
func ExtractMenuLinks(html string) []Link {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []Link
	doc.Find("nav a[href], .menu a[href], #menu a[href], .navbar a[href], ul.nav a[href], .sidebar a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if !usableHref(href) || seen[href] {
			return
		}
		seen[href] = true
		links = append(links, Link{URL: href, Text: collapseSpace(s.Text())})
	})
	return links
}

// ExtractNextLink 查找"下一页"链接并解析为绝对地址；没有时返回空串
func ExtractNextLink(html, baseURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var next string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !usableHref(href) {
			return true
		}
		rel, _ := s.Attr("rel")
		class, _ := s.Attr("class")
		title, _ := s.Attr("title")
		if strings.EqualFold(rel, "next") ||
			nextTextPattern.MatchString(s.Text()) ||
			strings.Contains(strings.ToLower(class), "next") ||
			strings.EqualFold(strings.TrimSpace(title), "next page") {
			next = resolve(baseURL, href)
			return false
		}
		return true
	})
	return next
}

// IsLoginPage 页面是否为登录页（含密码框或登录标记）
func IsLoginPage(html string) bool {
	return passwordFieldPattern.MatchString(html) || loginMarkerPattern.MatchString(html)
}

// ParseOrderPage 解析工单详情页（尽力而为，缺失字段保持零值）
func ParseOrderPage(html, id string, loc *time.Location) model.OrderRecord {
	order := model.OrderRecord{ID: id}
	if loc == nil {
		loc = time.UTC
	}

	fields := collectFields(html)
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := fields[k]; v != "" {
				return v
			}
		}
		return ""
	}

	// 1. 地址
	order.Address = get("address", "serviceaddress", "street", "streetaddress", "siteaddress")
	order.City = get("city")
	order.State = strings.ToUpper(get("state", "st"))
	order.Zip = get("zip", "zipcode", "postalcode")
	if order.City == "" && strings.Contains(order.Address, ",") {
		splitAddress(&order)
	}
	if csz := get("citystatezip"); csz != "" && order.City == "" {
		if m := cityStateZipPattern.FindStringSubmatch(csz); m != nil {
			order.City, order.State, order.Zip = m[1], strings.ToUpper(m[2]), m[3]
		}
	}

	// 2. 计划时间
	if d, ok := parseDate(get("scheduleddate", "scheduledate", "appointmentdate", "date")); ok {
		order.ScheduledDate = d.Format("2006-01-02")
	}
	if t, ok := parseClock(get("begintime", "starttime", "appointmenttime", "timewindow", "window")); ok {
		order.BeginTime = t
	}

	// 3. 类型与时长
	order.JobType = parseJobType(get("jobtype", "worktype", "ordertype", "type", "servicetype"))
	order.BaseDurationMinutes = parseDurationMinutes(get("duration", "estimatedduration", "estduration", "jobduration"))

	// 4. 附加项
	equipment := strings.ToLower(get("equipment", "materials", "services", "addons", "options"))
	order.HasPoleMount = truthy(get("polemount")) || strings.Contains(equipment, "pole mount")
	order.HasWifiExtender = truthy(get("wifiextender", "extender")) || strings.Contains(equipment, "extender")
	order.HasVoip = truthy(get("voip", "phone")) || strings.Contains(equipment, "voip")

	// 5. 现场时间戳
	order.ArrivalTs = parseTimestamp(get("arrival", "arrivaltime", "arrived", "onsite"), loc)
	order.DepartureCompleteTs = parseTimestamp(get("departurecomplete", "departedcomplete", "completed", "completiontime"), loc)
	order.DepartureIncompleteTs = parseTimestamp(get("departureincomplete", "departedincomplete", "incomplete"), loc)

	return order
}

// collectFields 收集 label -> value（表格行、dl、"Label: value" 文本行）
func collectFields(html string) map[string]string {
	fields := make(map[string]string)
	put := func(label, value string) {
		key := labelCleanPattern.ReplaceAllString(strings.ToLower(label), "")
		value = collapseSpace(value)
		if key == "" || value == "" {
			return
		}
		if _, ok := fields[key]; !ok {
			fields[key] = value
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fields
	}

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		for i := 0; i+1 < cells.Length(); i += 2 {
			put(strings.TrimSuffix(strings.TrimSpace(cells.Eq(i).Text()), ":"), cells.Eq(i+1).Text())
		}
	})
	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		put(strings.TrimSuffix(strings.TrimSpace(dt.Text()), ":"), dt.NextFiltered("dd").Text())
	})
	doc.Find("label[for]").Each(func(_ int, l *goquery.Selection) {
		forID, _ := l.Attr("for")
		input := doc.Find("#" + forID)
		if v, ok := input.Attr("value"); ok {
			put(l.Text(), v)
		} else {
			put(l.Text(), input.Text())
		}
	})

	// 纯文本兜底
	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}
	for _, m := range inlineFieldPattern.FindAllStringSubmatch(text, -1) {
		put(m[1], m[2])
	}
	return fields
}

// splitAddress "123 Main St, Springfield, IL 62701" 拆分
func splitAddress(order *model.OrderRecord) {
	street, rest, ok := strings.Cut(order.Address, ",")
	if !ok {
		return
	}
	m := cityStateZipPattern.FindStringSubmatch(rest)
	if m == nil {
		return
	}
	order.Address = strings.TrimSpace(street)
	order.City = m[1]
	if order.State == "" {
		order.State = strings.ToUpper(m[2])
	}
	if order.Zip == "" {
		order.Zip = m[3]
	}
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	// "03/05/2024 8:00 AM" 之类只取日期部分
	candidates := []string{s}
	if fields := strings.Fields(s); len(fields) > 1 {
		candidates = append(candidates, fields[0])
	}
	for _, c := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// parseClock 解析开始时间，输出 24 小时制 HH:MM；时间窗口取起点
func parseClock(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if start, _, ok := strings.Cut(s, "-"); ok {
		s = strings.TrimSpace(start)
	}
	s = strings.ToUpper(strings.ReplaceAll(s, ".", ""))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04"), true
		}
	}
	return "", false
}

func parseTimestamp(s string, loc *time.Location) *time.Time {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	for _, dl := range dateLayouts {
		for _, cl := range clockLayouts {
			if t, err := time.ParseInLocation(dl+" "+cl, s, loc); err == nil {
				return &t
			}
		}
	}
	return nil
}

func parseJobType(s string) model.JobType {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "re-install"), strings.Contains(l, "reinstall"), strings.Contains(l, "re install"):
		return model.JobTypeReInstall
	case strings.Contains(l, "install"):
		return model.JobTypeInstall
	case strings.Contains(l, "upgrade"):
		return model.JobTypeUpgrade
	case strings.Contains(l, "repair"), strings.Contains(l, "service call"), strings.Contains(l, "trouble"):
		return model.JobTypeRepair
	default:
		return ""
	}
}

func parseDurationMinutes(s string) int {
	if m := clockDurationPattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		return h*60 + mins
	}
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "h") {
		v *= 60
	}
	return int(v + 0.5)
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "x", "1", "checked", "on":
		return true
	default:
		return false
	}
}

func usableHref(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return false
	}
	l := strings.ToLower(href)
	return !strings.HasPrefix(l, "javascript:") && !strings.HasPrefix(l, "mailto:")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
