package config

import "time"

// Effective is the configuration that applies to one file: a named action's
// overrides merged onto the global defaults. Scalar overrides win whenever
// they are present, including zero values. Collection overrides win whenever
// they are non-null; an explicitly empty collection disables filtering rather
// than inheriting the global list.
type Effective struct {
	ActionName string
	ActionType ActionType
	Endpoint   string
	Command    string
	Arguments  []string

	PostFileContents               bool
	MoveOnSuccess                  bool
	ProcessedFolderName            string
	AllowedExtensions              []string
	ExcludePatterns                []string
	RecurseSubdirectories          bool
	DebounceWindowMilliseconds     int
	Retries                        int
	RetryDelayMilliseconds         int
	FileReadyWaitMilliseconds      int
	MaxContentBytes                int64
	StreamingThresholdBytes        int64
	DiscardZeroByteFiles           bool
	EnableCircuitBreaker           bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerOpenDuration     time.Duration
}

// DebounceWindow returns the settle window as a duration.
func (e *Effective) DebounceWindow() time.Duration {
	return time.Duration(e.DebounceWindowMilliseconds) * time.Millisecond
}

// RetryDelay returns the fixed inter-attempt delay as a duration.
func (e *Effective) RetryDelay() time.Duration {
	return time.Duration(e.RetryDelayMilliseconds) * time.Millisecond
}

// FileReadyWait returns the readiness wait as a duration.
func (e *Effective) FileReadyWait() time.Duration {
	return time.Duration(e.FileReadyWaitMilliseconds) * time.Millisecond
}

func scalar[T any](global T, override *T) T {
	if override != nil {
		return *override
	}
	return global
}

// list implements the collection precedence: a non-null override always wins,
// even when empty; a null override inherits the global list; a null global
// yields an empty effective list. The result is always a fresh slice so the
// snapshot stays immutable.
func list(global []string, override *[]string) []string {
	src := global
	if override != nil {
		src = *override
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Merge produces the effective configuration for one action against the
// global defaults. Service-wide knobs (channel capacity, watcher restart
// policy, parallelism) are deliberately absent here: they cannot be
// overridden per action.
func Merge(g *Global, a *ActionDefinition) *Effective {
	args := make([]string, len(a.Arguments))
	copy(args, a.Arguments)

	return &Effective{
		ActionName: a.Name,
		ActionType: a.Type,
		Endpoint:   a.Endpoint,
		Command:    a.Command,
		Arguments:  args,

		PostFileContents:               scalar(g.PostFileContents, a.PostFileContents),
		MoveOnSuccess:                  scalar(g.MoveOnSuccess, a.MoveOnSuccess),
		ProcessedFolderName:            scalar(g.ProcessedFolderName, a.ProcessedFolderName),
		AllowedExtensions:              list(g.AllowedExtensions, a.AllowedExtensions),
		ExcludePatterns:                list(g.ExcludePatterns, a.ExcludePatterns),
		RecurseSubdirectories:          scalar(g.RecurseSubdirectories, a.RecurseSubdirectories),
		DebounceWindowMilliseconds:     scalar(g.DebounceWindowMilliseconds, a.DebounceWindowMilliseconds),
		Retries:                        scalar(g.Retries, a.Retries),
		RetryDelayMilliseconds:         scalar(g.RetryDelayMilliseconds, a.RetryDelayMilliseconds),
		FileReadyWaitMilliseconds:      scalar(g.FileReadyWaitMilliseconds, a.FileReadyWaitMilliseconds),
		MaxContentBytes:                scalar(g.MaxContentBytes, a.MaxContentBytes),
		StreamingThresholdBytes:        scalar(g.StreamingThresholdBytes, a.StreamingThresholdBytes),
		DiscardZeroByteFiles:           scalar(g.DiscardZeroByteFiles, a.DiscardZeroByteFiles),
		EnableCircuitBreaker:           scalar(g.EnableCircuitBreaker, a.EnableCircuitBreaker),
		CircuitBreakerFailureThreshold: scalar(g.CircuitBreakerFailureThreshold, a.CircuitBreakerFailureThreshold),
		CircuitBreakerOpenDuration: time.Duration(
			scalar(g.CircuitBreakerOpenDurationMilliseconds, a.CircuitBreakerOpenDurationMilliseconds),
		) * time.Millisecond,
	}
}
