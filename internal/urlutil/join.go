package urlutil

import (
	"net/url"
	"strings"
)

// JoinPath appends segments to base. Each segment is escaped on its own, so
// a realm such as "a/b" stays one path segment.
func JoinPath(base string, segments ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	escaped := strings.TrimRight(u.EscapedPath(), "/")
	for _, s := range segments {
		if s == "" {
			continue
		}
		escaped += "/" + url.PathEscape(s)
	}

	u.Path, err = url.PathUnescape(escaped)
	if err != nil {
		return "", err
	}
	u.RawPath = escaped
	return u.String(), nil
}

// MustJoinPath is like JoinPath but panics on error (for use with known-good URLs)
func MustJoinPath(base string, segments ...string) string {
	result, err := JoinPath(base, segments...)
	if err != nil {
		panic(err)
	}
	return result
}
