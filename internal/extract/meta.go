package extract

import (
	"bytes"
	"errors"
	"io"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

const maxTextRunes = 8000

// Meta is what a single pass over a page yields.
type Meta struct {
	Title       string
	Description string
	Author      string
	SiteName    string
	Images      []string
	Text        string
}

// ParseMeta reads Open Graph and standard meta tags plus the visible text of an HTML document.
// Relative image URLs are resolved against base.
func ParseMeta(body []byte, base *url.URL) (Meta, error) {
	var (
		m         Meta
		docTitle  string
		plainDesc string
		inTitle   bool
		skipDepth int
		text      strings.Builder
		seenImage = map[string]struct{}{}
	)

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if !errors.Is(z.Err(), io.EOF) {
				return Meta{}, z.Err()
			}
			if m.Title == "" {
				m.Title = docTitle
			}
			if m.Description == "" {
				m.Description = plainDesc
			}
			m.Text = truncateRunes(collapseSpace(text.String()), maxTextRunes)
			return m, nil

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			tag := string(tn)
			switch {
			case tag == "title":
				inTitle = tt == html.StartTagToken
			case tag == "body":
				skipDepth = 0
			case tag == "meta" && hasAttr:
				attrs := tagAttrs(z)
				key := strings.ToLower(firstNonEmpty(attrs["property"], attrs["name"]))
				content := strings.TrimSpace(attrs["content"])
				if content == "" {
					continue
				}
				switch key {
				case "og:title", "twitter:title":
					if m.Title == "" {
						m.Title = content
					}
				case "og:description", "twitter:description":
					if m.Description == "" {
						m.Description = content
					}
				case "description":
					plainDesc = content
				case "author", "article:author", "naverblog:nickname":
					if m.Author == "" {
						m.Author = content
					}
				case "og:site_name":
					m.SiteName = content
				case "og:image", "og:image:url", "twitter:image":
					if img := resolve(base, content); img != "" {
						if _, dup := seenImage[img]; !dup {
							seenImage[img] = struct{}{}
							m.Images = append(m.Images, img)
						}
					}
				}
			case isHiddenElement(tag) && tt == html.StartTagToken:
				skipDepth++
			case isBlockElement(tag):
				text.WriteByte('\n')
			}

		case html.EndTagToken:
			tn, _ := z.TagName()
			tag := string(tn)
			switch {
			case tag == "title":
				inTitle = false
			case isHiddenElement(tag) && skipDepth > 0:
				skipDepth--
			case isBlockElement(tag):
				text.WriteByte('\n')
			}

		case html.TextToken:
			if inTitle {
				docTitle = strings.TrimSpace(string(z.Text()))
				continue
			}
			if skipDepth == 0 {
				text.Write(z.Text())
				text.WriteByte(' ')
			}
		}
	}
}

func tagAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string, 4)
	for {
		key, val, more := z.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
		if !more {
			return attrs
		}
	}
}

func isHiddenElement(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "template", "svg", "head", "iframe":
		return true
	}
	return false
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "section", "article":
		return true
	}
	return false
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// collapseSpace trims each line, folds runs of blanks and drops empty lines.
func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
