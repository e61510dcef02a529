// Package utils holds small generic helpers shared across buildrunner's
// packages. Kept deliberately tiny: anything domain-specific belongs in the
// package that owns that domain.
package utils

import (
	"io"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// SplitLines takes a multiline string and splits it on newlines, dropping a
// trailing empty line left by a trailing "\n".
func SplitLines(multilineString string) []string {
	multilineString = strings.ReplaceAll(multilineString, "\r", "")
	if multilineString == "" || multilineString == "\n" {
		return make([]string, 0)
	}
	lines := strings.Split(multilineString, "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	return lines
}

// CloseMany closes every closer, continuing past individual failures, and
// returns an aggregate error if any close failed.
func CloseMany(closers []io.Closer) error {
	var result *multierror.Error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// SafeTruncate truncates str to at most limit bytes.
func SafeTruncate(str string, limit int) string {
	if len(str) > limit {
		return str[0:limit]
	}
	return str
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
