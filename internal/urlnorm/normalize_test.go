package urlnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placelink-backend/internal/shared/errs"
)

func TestNormalizeEquivalentURLsShareKey(t *testing.T) {
	groups := [][]string{
		{
			"https://instagram.com/p/abc",
			"https://instagram.com/p/abc?utm_source=ig",
			"https://instagram.com/p/abc/",
			"https://www.Instagram.com/p/abc/#comments",
			"HTTPS://INSTAGRAM.COM/p/abc?igshid=xyz&utm_medium=copy_link",
			"https://m.instagram.com:443/p/abc",
		},
		{
			"https://youtube.com/watch?v=dQw4w9WgXcQ",
			"https://www.youtube.com/watch?v=dQw4w9WgXcQ&feature=share",
			"https://youtu.be/dQw4w9WgXcQ?si=abcdef",
			"https://m.youtube.com/watch?si=1&v=dQw4w9WgXcQ",
		},
		{
			"https://blog.naver.com/foodie/223344",
			"https://m.blog.naver.com/foodie/223344/",
			"https://blog.naver.com/foodie/223344?fbclid=1",
		},
	}

	for _, group := range groups {
		first, err := Normalize(group[0])
		require.NoError(t, err)
		for _, raw := range group[1:] {
			got, err := Normalize(raw)
			require.NoError(t, err, raw)
			assert.Equal(t, first.URL, got.URL, raw)
			assert.Equal(t, first.ContentKey, got.ContentKey, raw)
		}
	}
}

func TestNormalizeOutput(t *testing.T) {
	got, err := Normalize("https://youtu.be/dQw4w9WgXcQ?si=abcdef")
	require.NoError(t, err)
	assert.Equal(t, "https://youtube.com/watch?v=dQw4w9WgXcQ", got.URL)
	assert.Equal(t, "youtube.com", got.Host)
	assert.Len(t, got.ContentKey, 64)
	assert.Equal(t, ContentKey(got.URL), got.ContentKey)

	got, err = Normalize("http://Example.com:8080/a/b/?z=2&a=1&a=0")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:8080/a/b?a=0&a=1&z=2", got.URL)

	got, err = Normalize("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got.URL)
}

func TestNormalizeKeepsDistinctContent(t *testing.T) {
	a, err := Normalize("https://instagram.com/p/abc")
	require.NoError(t, err)
	b, err := Normalize("https://instagram.com/p/abd")
	require.NoError(t, err)
	c, err := Normalize("https://www.example.com/p/abc")
	require.NoError(t, err)
	d, err := Normalize("https://example.com/p/abc")
	require.NoError(t, err)

	assert.NotEqual(t, a.ContentKey, b.ContentKey)
	assert.NotEqual(t, c.ContentKey, d.ContentKey, "www is only collapsed for known platforms")
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a url", "/relative/path", "ftp://example.com/file", "https://", "mailto:me@example.com"} {
		_, err := Normalize(raw)
		require.Error(t, err, raw)
		assert.Equal(t, errs.InvalidURL, errs.KindOf(err), raw)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	const raw = "https://blog.naver.com/foodie/223344?utm_campaign=x"
	first, err := Normalize(raw)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		got, err := Normalize(raw)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestNormalizeHostForms(t *testing.T) {
	cases := map[string]string{
		"http://[2001:DB8::1]/p":       "http://[2001:db8::1]/p",
		"https://[2001:db8::1]:443/p":  "https://[2001:db8::1]/p",
		"https://[2001:db8::1]:8443/p": "https://[2001:db8::1]:8443/p",
		"http://example.com:80/p":      "http://example.com/p",
		"https://example.com:443/p":    "https://example.com/p",
		"https://example.com:80/p":     "https://example.com:80/p",
		"http://example.com:443/p":     "http://example.com:443/p",
	}
	for raw, want := range cases {
		got, err := Normalize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got.URL, raw)
	}
}
