package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var idAllowList = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidID reports whether id passes the strict allow-list check used for
// every externally supplied adventure id.
func ValidID(id string) bool {
	return idAllowList.MatchString(id)
}

// securePath joins base and id and verifies the result stays a descendant of
// base. This is a second line of defense behind ValidID: ids smuggling path
// separators or ".." segments must never escape the base directory.
func securePath(base, id string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve base dir: %w", err)
	}
	abs, err := filepath.Abs(filepath.Join(absBase, id))
	if err != nil {
		return "", fmt.Errorf("resolve adventure dir: %w", err)
	}
	if abs == absBase || !strings.HasPrefix(abs, absBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes base directory", id)
	}
	return abs, nil
}
