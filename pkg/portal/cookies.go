package portal

import (
	"regexp"
	"strings"
)

var cookiePairPattern = regexp.MustCompile(`^\s*[^=;,\s]+=`)

// CombineCookies 将多个（或逗号拼接的）Set-Cookie 值合并为 "a=1; b=2"
// Expires 属性中的逗号不会被当作分隔符；同名 cookie 以后出现者为准
func CombineCookies(headers []string) string {
	var raw []string
	for _, h := range headers {
		parts := strings.Split(h, ",")
		for _, p := range parts {
			// "Expires=Wed, 21 Oct ..." 被逗号拆开后的残片并回上一段
			if len(raw) > 0 && !cookiePairPattern.MatchString(p) {
				raw[len(raw)-1] += "," + p
				continue
			}
			raw = append(raw, p)
		}
	}

	order := make([]string, 0, len(raw))
	values := make(map[string]string, len(raw))
	for _, c := range raw {
		pair := strings.TrimSpace(strings.SplitN(c, ";", 2)[0])
		name, _, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		name = strings.TrimSpace(name)
		if _, seen := values[name]; !seen {
			order = append(order, name)
		}
		values[name] = pair
	}

	out := make([]string, 0, len(order))
	for _, name := range order {
		out = append(out, values[name])
	}
	return strings.Join(out, "; ")
}
