package scanner

import (
	"path"
	"path/filepath"
	"strings"
)

// MatchGlob reports whether a slash-separated relative path matches a glob
// pattern. "*" and "?" match within one path segment; "**" matches any number
// of segments, including zero.
func MatchGlob(pattern, relPath string) bool {
	p := strings.Split(path.Clean(filepath.ToSlash(pattern)), "/")
	s := strings.Split(path.Clean(filepath.ToSlash(relPath)), "/")
	return matchSegments(p, s)
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) == 0 {
		return len(segs) == 0
	}

	if pattern[0] == "**" {
		// "**" swallows zero or more leading segments.
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pattern[1:], segs[i:]) {
				return true
			}
		}
		return false
	}

	if len(segs) == 0 {
		return false
	}

	ok, err := path.Match(pattern[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segs[1:])
}

// MatchAny reports whether relPath matches any of the patterns.
func MatchAny(patterns []string, relPath string) bool {
	for _, p := range patterns {
		if MatchGlob(p, relPath) {
			return true
		}
	}
	return false
}
