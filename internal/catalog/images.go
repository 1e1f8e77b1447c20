package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var DefaultImageExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

const coverStem = "cover"

// ListImages returns the image file names in dir, sorted lexically, with the
// cover image moved to the front. Sub-directories are ignored.
func ListImages(dir string, extensions []string) ([]string, error) {
	if len(extensions) == 0 {
		extensions = DefaultImageExtensions
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list images in %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if hasExtension(e.Name(), extensions) {
			names = append(names, e.Name())
		}
	}
	return OrderImages(names), nil
}

// OrderImages sorts names lexically and moves the first cover.* entry to the
// front.
func OrderImages(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)

	for i, name := range out {
		if isCover(name) {
			cover := out[i]
			copy(out[1:i+1], out[:i])
			out[0] = cover
			break
		}
	}
	return out
}

func isCover(name string) bool {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.EqualFold(stem, coverStem)
}

// IsImage reports whether name carries one of extensions, compared
// case-insensitively. Nil extensions means DefaultImageExtensions.
func IsImage(name string, extensions []string) bool {
	if len(extensions) == 0 {
		extensions = DefaultImageExtensions
	}
	return hasExtension(name, extensions)
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}
