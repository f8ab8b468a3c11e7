// Package urlnorm canonicalizes submitted links and derives their content key.
package urlnorm

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/shared/util"
)

// Normalized is a canonical URL and the hex SHA-256 of its string form.
type Normalized struct {
	URL        string
	Host       string
	ContentKey string
}

var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"igshid":  {},
	"igsh":    {},
	"si":      {},
	"feature": {},
	"ref":     {},
	"ref_src": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"_ga":     {},
	"spm":     {},
}

// Hosts whose "www." and "m." aliases serve the same content.
var collapsibleHosts = map[string]struct{}{
	"instagram.com":  {},
	"youtube.com":    {},
	"blog.naver.com": {},
}

// Normalize canonicalizes raw. Equivalent links always produce the same ContentKey.
func Normalize(raw string) (Normalized, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Normalized{}, errs.New(errs.InvalidURL, "url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return Normalized{}, errs.Wrap(errs.InvalidURL, "url is not well formed", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Normalized{}, errs.New(errs.InvalidURL, "url must be an absolute http(s) url")
	}
	host := canonicalHost(u, scheme)
	if host == "" {
		return Normalized{}, errs.New(errs.InvalidURL, "url has no host")
	}

	path := u.EscapedPath()
	query := u.Query()

	if host == "youtu.be" {
		if id := strings.Trim(path, "/"); id != "" {
			host = "youtube.com"
			path = "/watch"
			query.Set("v", id)
		}
	}

	path = strings.TrimRight(path, "/")

	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		RawPath:  "",
		RawQuery: encodeQuery(query),
	}
	if path != "" {
		unescaped, err := url.PathUnescape(path)
		if err != nil {
			return Normalized{}, errs.Wrap(errs.InvalidURL, "url path is not well formed", err)
		}
		out.Path = unescaped
		out.RawPath = path
	}
	normalized := out.String()

	return Normalized{
		URL:        normalized,
		Host:       host,
		ContentKey: ContentKey(normalized),
	}, nil
}

// ContentKey hashes an already-normalized URL.
func ContentKey(normalizedURL string) string {
	return util.SHA256Hex(normalizedURL)
}

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// canonicalHost lowercases the host, collapses www./m. on known platforms and drops the
// scheme's own default port. IPv6 literals keep their brackets.
func canonicalHost(u *url.URL, scheme string) string {
	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return ""
	}
	port := u.Port()
	for _, prefix := range []string{"www.", "m."} {
		if trimmed := strings.TrimPrefix(host, prefix); trimmed != host {
			if _, ok := collapsibleHosts[trimmed]; ok {
				host = trimmed
				break
			}
		}
	}
	if port == "" || port == defaultPorts[scheme] {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}

func encodeQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if isTrackingParam(key) {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		vals := append([]string(nil), values[key]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	_, ok := trackingParams[lower]
	return ok
}
