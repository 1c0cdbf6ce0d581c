package events

import "time"

// RecordStart is emitted when a record enters processing. Depth is the
// number of frames on the flow's stack, so nested records have Depth > 1.
type RecordStart struct {
	Schema string
	Phase  string
	Mode   string
	Depth  int
}

// RecordFinish is emitted after a record was processed. Failures counts
// the failures collected while processing it; Err is set when processing
// aborted.
type RecordFinish struct {
	Schema   string
	Phase    string
	Depth    int
	Failures int
	Err      error
	Duration time.Duration
}

// FieldFailure is emitted for every failing field. Collected reports
// whether the failure was captured by the error mode instead of aborting.
type FieldFailure struct {
	Schema    string
	Field     string
	Path      string
	Template  string
	Code      string
	Collected bool
}

// ChainCompiled is emitted when a field chain is compiled, not when it is
// served from the cache.
type ChainCompiled struct {
	Schema       string
	Field        string
	Phase        string
	Declarations int
	Duration     time.Duration
}
