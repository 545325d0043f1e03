package worker

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestUnderProcessedFolder(t *testing.T) {
	assert.True(t, underProcessedFolder(
		filepath.Join("/drop", "processed", "a.txt"), "/drop", "processed"))
	assert.True(t, underProcessedFolder(
		filepath.Join("/drop", "sub", "processed", "a.txt"), "/drop", "processed"),
		"nested processed folders are excluded too")
	assert.True(t, underProcessedFolder(
		filepath.Join("/drop", "PROCESSED", "a.txt"), "/drop", "processed"))

	assert.False(t, underProcessedFolder(
		filepath.Join("/drop", "a.txt"), "/drop", "processed"))
	assert.False(t, underProcessedFolder(
		filepath.Join("/drop", "processed.txt"), "/drop", "processed"),
		"a file named like the folder is not excluded")
	assert.False(t, underProcessedFolder(
		filepath.Join("/elsewhere", "processed", "a.txt"), "/drop", "processed"))
	assert.False(t, underProcessedFolder(
		filepath.Join("/drop", "processed", "a.txt"), "/drop", ""),
		"empty processed name disables the filter")
}

func TestExtensionAllowed(t *testing.T) {
	assert.True(t, extensionAllowed("/drop/a.txt", []string{".txt"}))
	assert.True(t, extensionAllowed("/drop/a.TXT", []string{".txt"}), "case-insensitive")
	assert.True(t, extensionAllowed("/drop/a.txt", []string{"csv", "txt"}), "leading dot optional")
	assert.False(t, extensionAllowed("/drop/a.bin", []string{".txt", ".csv"}))
	assert.False(t, extensionAllowed("/drop/noext", []string{".txt"}))
}

func TestMatchExcludePattern(t *testing.T) {
	log := zerolog.Nop()

	pattern, ok := matchExcludePattern("report.bak", []string{"*.log", "*.bak"}, log)
	assert.True(t, ok)
	assert.Equal(t, "*.bak", pattern)

	pattern, ok = matchExcludePattern("REPORT.BAK", []string{"*.bak"}, log)
	assert.True(t, ok, "matching is case-insensitive")
	assert.Equal(t, "*.bak", pattern)

	_, ok = matchExcludePattern("report.txt", []string{"*.log", "*.bak"}, log)
	assert.False(t, ok)

	pattern, ok = matchExcludePattern("a1.tmp", []string{"a?.tmp"}, log)
	assert.True(t, ok)
	assert.Equal(t, "a?.tmp", pattern)

	_, ok = matchExcludePattern("ab1.tmp", []string{"a?.tmp"}, log)
	assert.False(t, ok, "? matches exactly one character")

	_, ok = matchExcludePattern("anything", []string{"[bad"}, log)
	assert.False(t, ok, "invalid patterns are skipped, not fatal")
}
