package worker

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
)

// underProcessedFolder reports whether path sits inside the effective
// processed-folder subdirectory of folderPath. Any segment of the relative
// path matching the processed-folder name counts, so files parked in nested
// subdirectories are covered too.
func underProcessedFolder(path, folderPath, processed string) bool {
	if processed == "" {
		return false
	}
	rel, err := filepath.Rel(folderPath, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	for _, segment := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if strings.EqualFold(segment, processed) {
			return true
		}
	}
	return false
}

// extensionAllowed reports whether the file's extension is a case-insensitive
// member of allowed. Entries may be given with or without the leading dot.
func extensionAllowed(path string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" && !strings.HasPrefix(a, ".") {
			a = "." + a
		}
		if a == ext {
			return true
		}
	}
	return false
}

// matchExcludePattern checks name against the wildcard patterns (`*`, `?`),
// case-insensitively, returning the first pattern that matched. Patterns
// that fail to compile are logged and skipped rather than failing the file.
func matchExcludePattern(name string, patterns []string, log zerolog.Logger) (string, bool) {
	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("invalid exclude pattern")
			continue
		}
		if g.Match(lower) {
			return pattern, true
		}
	}
	return "", false
}
