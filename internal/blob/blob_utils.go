package blob

import (
	"strings"
	"unicode/utf8"
)

// ValidateKey reports whether key is a usable object key: 1-1024 bytes of
// UTF-8, no leading slash, no empty, "." or ".." segments.
func ValidateKey(key string) bool {
	if len(key) == 0 || len(key) > 1024 {
		return false
	}
	if strings.HasPrefix(key, "/") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return utf8.ValidString(key)
}
