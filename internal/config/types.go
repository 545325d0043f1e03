// Package config holds the service configuration model: global defaults,
// watched folders, named action definitions, and the merge that produces an
// effective per-file configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ActionType identifies how a settled file is handed off.
type ActionType string

const (
	ActionRestDelivery    ActionType = "rest"
	ActionExecutable      ActionType = "executable"
	ActionScriptExecution ActionType = "script"
)

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionRestDelivery, ActionExecutable, ActionScriptExecution:
		return true
	}
	return false
}

// WatchedFolder binds a folder path to a named action. Identity is
// case-insensitive on both fields.
type WatchedFolder struct {
	FolderPath string `json:"folderPath"`
	ActionName string `json:"actionName"`
}

// Equal compares two folders case-insensitively.
func (f WatchedFolder) Equal(other WatchedFolder) bool {
	return strings.EqualFold(f.FolderPath, other.FolderPath) &&
		strings.EqualFold(f.ActionName, other.ActionName)
}

// ActionDefinition is a named action plus optional overrides for every global
// behavior knob. Pointer fields distinguish "absent/null = inherit the global
// value" from an explicit value; an explicitly empty collection means "no
// filtering" and never falls back to the global collection.
type ActionDefinition struct {
	Name string     `json:"name"`
	Type ActionType `json:"type"`

	// Type-specific fields.
	Endpoint  string   `json:"endpoint,omitempty"`  // rest
	Command   string   `json:"command,omitempty"`   // executable / script
	Arguments []string `json:"arguments,omitempty"` // executable / script

	PostFileContents                       *bool     `json:"postFileContents,omitempty"`
	MoveOnSuccess                          *bool     `json:"moveOnSuccess,omitempty"`
	ProcessedFolderName                    *string   `json:"processedFolderName,omitempty"`
	AllowedExtensions                      *[]string `json:"allowedExtensions,omitempty"`
	ExcludePatterns                        *[]string `json:"excludePatterns,omitempty"`
	RecurseSubdirectories                  *bool     `json:"recurseSubdirectories,omitempty"`
	DebounceWindowMilliseconds             *int      `json:"debounceWindowMilliseconds,omitempty"`
	Retries                                *int      `json:"retries,omitempty"`
	RetryDelayMilliseconds                 *int      `json:"retryDelayMilliseconds,omitempty"`
	FileReadyWaitMilliseconds              *int      `json:"fileReadyWaitMilliseconds,omitempty"`
	MaxContentBytes                        *int64    `json:"maxContentBytes,omitempty"`
	StreamingThresholdBytes                *int64    `json:"streamingThresholdBytes,omitempty"`
	DiscardZeroByteFiles                   *bool     `json:"discardZeroByteFiles,omitempty"`
	EnableCircuitBreaker                   *bool     `json:"enableCircuitBreaker,omitempty"`
	CircuitBreakerFailureThreshold         *int      `json:"circuitBreakerFailureThreshold,omitempty"`
	CircuitBreakerOpenDurationMilliseconds *int      `json:"circuitBreakerOpenDurationMilliseconds,omitempty"`
}

// Global holds the behavior defaults every action inherits, plus service-wide
// knobs that are never overridable per action.
type Global struct {
	// Behavior defaults, overridable per action.
	PostFileContents                       bool     `json:"postFileContents"`
	MoveOnSuccess                          bool     `json:"moveOnSuccess"`
	ProcessedFolderName                    string   `json:"processedFolderName"`
	AllowedExtensions                      []string `json:"allowedExtensions"`
	ExcludePatterns                        []string `json:"excludePatterns"`
	RecurseSubdirectories                  bool     `json:"recurseSubdirectories"`
	DebounceWindowMilliseconds             int      `json:"debounceWindowMilliseconds"`
	Retries                                int      `json:"retries"`
	RetryDelayMilliseconds                 int      `json:"retryDelayMilliseconds"`
	FileReadyWaitMilliseconds              int      `json:"fileReadyWaitMilliseconds"`
	MaxContentBytes                        int64    `json:"maxContentBytes"`
	StreamingThresholdBytes                int64    `json:"streamingThresholdBytes"`
	DiscardZeroByteFiles                   bool     `json:"discardZeroByteFiles"`
	EnableCircuitBreaker                   bool     `json:"enableCircuitBreaker"`
	CircuitBreakerFailureThreshold         int      `json:"circuitBreakerFailureThreshold"`
	CircuitBreakerOpenDurationMilliseconds int      `json:"circuitBreakerOpenDurationMilliseconds"`

	// Service-wide knobs, global-only.
	ChannelCapacity                 int    `json:"channelCapacity"`
	MaxParallelDispatches           int    `json:"maxParallelDispatches"`
	WatcherMaxRestartAttempts       int    `json:"watcherMaxRestartAttempts"`
	WatcherRestartDelayMilliseconds int    `json:"watcherRestartDelayMilliseconds"`
	LogLevel                        string `json:"logLevel"`
	DiagnosticsPort                 int    `json:"diagnosticsPort"`
}

// Config is one immutable configuration snapshot.
type Config struct {
	Global  Global             `json:"global"`
	Folders []WatchedFolder    `json:"folders"`
	Actions []ActionDefinition `json:"actions"`
}

// Default returns the built-in configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		Global: Global{
			MoveOnSuccess:                          true,
			ProcessedFolderName:                    "processed",
			RecurseSubdirectories:                  true,
			DebounceWindowMilliseconds:             2000,
			Retries:                                3,
			RetryDelayMilliseconds:                 5000,
			FileReadyWaitMilliseconds:              500,
			MaxContentBytes:                        10 << 20,
			StreamingThresholdBytes:                1 << 20,
			DiscardZeroByteFiles:                   true,
			EnableCircuitBreaker:                   true,
			CircuitBreakerFailureThreshold:         5,
			CircuitBreakerOpenDurationMilliseconds: 30000,
			ChannelCapacity:                        256,
			MaxParallelDispatches:                  4,
			WatcherMaxRestartAttempts:              5,
			WatcherRestartDelayMilliseconds:        2000,
			LogLevel:                               "info",
		},
	}
}

// ActionByName returns the action definition with the given name,
// case-insensitively.
func (c *Config) ActionByName(name string) (*ActionDefinition, bool) {
	for i := range c.Actions {
		if strings.EqualFold(c.Actions[i].Name, name) {
			return &c.Actions[i], true
		}
	}
	return nil, false
}

// FolderForPath returns the watched folder whose path is the nearest
// configured ancestor of path, case-insensitively. The longest matching
// folder wins so nested watched folders resolve to the deepest one.
func (c *Config) FolderForPath(path string) (WatchedFolder, bool) {
	norm := strings.ToLower(filepath.Clean(path))

	var best WatchedFolder
	bestLen := -1
	for _, f := range c.Folders {
		dir := strings.ToLower(filepath.Clean(f.FolderPath))
		if !underDir(norm, dir) {
			continue
		}
		if len(dir) > bestLen {
			best, bestLen = f, len(dir)
		}
	}
	return best, bestLen >= 0
}

// underDir reports whether path lies under dir (or equals it). Both arguments
// must already be cleaned and lowercased.
func underDir(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasPrefix(path, dir) {
		return false
	}
	rest := path[len(dir):]
	return strings.HasPrefix(rest, string(os.PathSeparator)) || strings.HasSuffix(dir, string(os.PathSeparator))
}

// Validate checks cross-references and value ranges. A config that fails
// validation is never installed as the current snapshot.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Actions))
	for i := range c.Actions {
		a := &c.Actions[i]
		if a.Name == "" {
			return fmt.Errorf("action %d: name is required", i)
		}
		key := strings.ToLower(a.Name)
		if seen[key] {
			return fmt.Errorf("duplicate action name %q", a.Name)
		}
		seen[key] = true
		if !a.Type.Valid() {
			return fmt.Errorf("action %q: unknown type %q", a.Name, a.Type)
		}
		if a.Type == ActionRestDelivery && a.Endpoint == "" {
			return fmt.Errorf("action %q: rest delivery requires an endpoint", a.Name)
		}
		if a.Type != ActionRestDelivery && a.Command == "" {
			return fmt.Errorf("action %q: %s requires a command", a.Name, a.Type)
		}
	}
	for _, f := range c.Folders {
		if f.FolderPath == "" {
			return fmt.Errorf("folder with empty path")
		}
		if _, ok := c.ActionByName(f.ActionName); !ok {
			return fmt.Errorf("folder %q references unknown action %q", f.FolderPath, f.ActionName)
		}
	}
	if c.Global.DebounceWindowMilliseconds <= 0 {
		return fmt.Errorf("debounceWindowMilliseconds must be positive")
	}
	if c.Global.ChannelCapacity <= 0 {
		return fmt.Errorf("channelCapacity must be positive")
	}
	if c.Global.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}

// SameTopology reports whether two snapshots watch the same folder/action
// sets. When it is false a reload must tear down and restart the watchers.
func SameTopology(a, b *Config) bool {
	if len(a.Folders) != len(b.Folders) || len(a.Actions) != len(b.Actions) {
		return false
	}
	for i := range a.Folders {
		if !a.Folders[i].Equal(b.Folders[i]) {
			return false
		}
	}
	for i := range a.Actions {
		if !strings.EqualFold(a.Actions[i].Name, b.Actions[i].Name) ||
			a.Actions[i].Type != b.Actions[i].Type {
			return false
		}
	}
	// Recursion changes also require new watch handles.
	for i := range a.Actions {
		ar, br := a.Actions[i].RecurseSubdirectories, b.Actions[i].RecurseSubdirectories
		if (ar == nil) != (br == nil) || (ar != nil && *ar != *br) {
			return false
		}
	}
	return a.Global.RecurseSubdirectories == b.Global.RecurseSubdirectories
}
