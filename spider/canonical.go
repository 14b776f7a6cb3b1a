// Package spider implements the concurrent crawler: URL frontier,
// politeness, robots handling, scope filtering, link extraction, and depth
// control.
package spider

import (
	"net/url"
	"sort"
	"strings"
)

// Canonicalize normalizes a URL for deduplication: lowercased host,
// default ports stripped, percent-encoding normalized, fragment dropped,
// query preserved and sorted by key.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.Path == "" {
		u.Path = "/"
	}

	if u.RawQuery != "" {
		values, err := url.ParseQuery(u.RawQuery)
		if err == nil {
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			var b strings.Builder
			for _, k := range keys {
				vals := values[k]
				sort.Strings(vals)
				for _, v := range vals {
					if b.Len() > 0 {
						b.WriteByte('&')
					}
					b.WriteString(url.QueryEscape(k))
					if v != "" || strings.Contains(u.RawQuery, k+"=") {
						b.WriteByte('=')
						b.WriteString(url.QueryEscape(v))
					}
				}
			}
			u.RawQuery = b.String()
		}
	}

	// round-trip normalizes percent-encoding
	return u.String(), nil
}
