package store

import (
	"net/url"
	"strings"
)

const separator = "/"

// Join builds a store path from raw segments. Each segment is escaped so that
// opaque identifiers containing a separator cannot address another node.
func Join(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return strings.Join(escaped, separator)
}

// Key returns the unescaped last segment of path.
func Key(path string) string {
	index := strings.LastIndex(path, separator)
	last := path
	if index >= 0 {
		last = path[index+1:]
	}
	decoded, err := url.PathUnescape(last)
	if err != nil {
		return last
	}
	return decoded
}

func parentOf(path string) string {
	index := strings.LastIndex(path, separator)
	if index < 0 {
		return ""
	}
	return path[:index]
}

func normalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), separator)
}
