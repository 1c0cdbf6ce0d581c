package execctx

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	failure "github.com/hanpama/dtopipe/internal/failure"
)

// ErrorMode decides what happens to a processing failure raised inside a
// frame.
type ErrorMode int

const (
	// FailFast propagates the first failure and aborts the record.
	FailFast ErrorMode = iota
	// CollectNull captures the failure and substitutes nil.
	CollectNull
	// CollectOriginal captures the failure and keeps the original input.
	CollectOriginal
	// CollectOmit captures the failure and drops the value.
	CollectOmit
)

var modeNames = map[ErrorMode]string{
	FailFast:        "fail-fast",
	CollectNull:     "collect-null",
	CollectOriginal: "collect-original",
	CollectOmit:     "collect-omit",
}

func (m ErrorMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Collects reports whether failures are captured instead of propagated.
func (m ErrorMode) Collects() bool { return m != FailFast }

// ParseErrorMode parses the names produced by String.
func ParseErrorMode(s string) (ErrorMode, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "":
		return FailFast, nil
	case "collect":
		return CollectNull, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return FailFast, fmt.Errorf("unknown error mode %q", s)
}

// ErrorList is an ordered collection of captured failures.
type ErrorList struct {
	items []*failure.Error
}

func NewErrorList() *ErrorList { return &ErrorList{} }

func (l *ErrorList) Add(errs ...*failure.Error) {
	l.items = append(l.items, errs...)
}

func (l *ErrorList) Len() int { return len(l.items) }

func (l *ErrorList) Empty() bool { return len(l.items) == 0 }

// All returns a copy of the captured failures in capture order.
func (l *ErrorList) All() []*failure.Error {
	return append([]*failure.Error(nil), l.items...)
}

func (l *ErrorList) Reset() { l.items = nil }

// Err combines the list into one error, or nil when empty.
func (l *ErrorList) Err() error {
	errs := make([]error, 0, len(l.items))
	for _, e := range l.items {
		errs = append(errs, e)
	}
	return multierr.Combine(errs...)
}
