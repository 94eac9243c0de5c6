// Package shellpath validates filesystem paths that are spliced unquoted into
// remote shell command lines.
//
// The working directory of a persistent session is echoed back by the remote
// host after every command, so it is attacker-reachable data. It must pass
// [Validate] each time it is stored and each time it is about to be reused.
package shellpath

import (
	"errors"
	"strings"
)

var (
	// ErrUnsafeCharacters is returned for empty paths and for paths containing
	// any byte outside [A-Za-z0-9/_.~-].
	ErrUnsafeCharacters = errors.New("invalid path: contains unsafe characters")
	// ErrTraversal is returned when a "/"-separated segment is exactly "..".
	ErrTraversal = errors.New("invalid path: directory traversal not allowed")
)

// Validate returns path unchanged if it is safe to interpolate into a shell
// command line. It rejects, never rewrites.
func Validate(path string) (string, error) {
	if path == "" {
		return "", ErrUnsafeCharacters
	}
	for i := 0; i < len(path); i++ {
		if !allowed(path[i]) {
			return "", ErrUnsafeCharacters
		}
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return "", ErrTraversal
		}
	}
	return path, nil
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrUnsafeCharacters) || errors.Is(err, ErrTraversal)
}

func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '/', c == '_', c == '.', c == '~', c == '-':
		return true
	}
	return false
}
