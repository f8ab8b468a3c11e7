// Package platform classifies normalized links by the site that hosts them.
package platform

import (
	"net/url"
	"strings"

	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/urlnorm"
)

// Platform is the closed set of content sources the pipeline can extract from.
type Platform string

const (
	Unsupported Platform = ""
	Instagram   Platform = "instagram"
	NaverBlog   Platform = "naver_blog"
	YouTube     Platform = "youtube"
	Generic     Platform = "generic"
)

// All lists the supported platforms.
var All = []Platform{Instagram, NaverBlog, YouTube, Generic}

func (p Platform) String() string {
	if p == Unsupported {
		return "unsupported"
	}
	return string(p)
}

// Supported reports whether p names an extractable platform.
func (p Platform) Supported() bool {
	switch p {
	case Instagram, NaverBlog, YouTube, Generic:
		return true
	}
	return false
}

// Detector maps hosts to platforms. Hosts outside the built-in set are Generic only when
// listed in GenericHosts.
type Detector struct {
	genericHosts map[string]struct{}
}

// NewDetector builds a detector that accepts the given extra hosts as Generic.
func NewDetector(genericHosts []string) *Detector {
	hosts := make(map[string]struct{}, len(genericHosts))
	for _, h := range genericHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, "www.")
		if h != "" {
			hosts[h] = struct{}{}
		}
	}
	return &Detector{genericHosts: hosts}
}

// Detect classifies an already-normalized link.
func (d *Detector) Detect(n urlnorm.Normalized) Platform {
	host := n.Host
	if host == "" {
		if u, err := url.Parse(n.URL); err == nil {
			host = strings.ToLower(u.Hostname())
		}
	}
	switch {
	case host == "instagram.com" || host == "instagr.am":
		return Instagram
	case host == "blog.naver.com":
		return NaverBlog
	case host == "youtube.com" || host == "youtu.be" || host == "music.youtube.com":
		return YouTube
	}
	if d != nil && d.matchesGeneric(host) {
		return Generic
	}
	return Unsupported
}

// DetectURL normalizes raw and classifies it.
func (d *Detector) DetectURL(raw string) (urlnorm.Normalized, Platform, error) {
	n, err := urlnorm.Normalize(raw)
	if err != nil {
		return urlnorm.Normalized{}, Unsupported, err
	}
	p := d.Detect(n)
	if p == Unsupported {
		return n, p, errs.New(errs.UnsupportedPlatform, "unsupported platform: "+n.Host)
	}
	return n, p, nil
}

func (d *Detector) matchesGeneric(host string) bool {
	host = strings.TrimPrefix(host, "www.")
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	for {
		if _, ok := d.genericHosts[host]; ok {
			return true
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			return false
		}
		host = host[dot+1:]
	}
}
