// Package diag holds the pipeline's structured diagnostics: the error
// categories from spec §7 and the logrus-based stage/target-tagged logger
// every pass and collaborator logs through.
package diag

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wasip1vfs/linker/internal/names"
)

// Logger is a *logrus.Logger shared across the whole pipeline run; callers
// get a stage/target-scoped child via For.
type Logger struct {
	*logrus.Logger
}

// NewLogger builds the pipeline's logger, writing structured text to stderr
// at debug level when verbose is set and at info level otherwise.
func NewLogger(verbose bool) *Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &Logger{Logger: l}
}

// For returns an entry tagged with stage and (if non-empty) target, matching
// spec §7's "user-visible failures include the failing stage name and the
// target being processed."
func (l *Logger) For(stage, target string) *logrus.Entry {
	e := l.WithField("stage", stage)
	if target != "" {
		e = e.WithField("target", target)
	}
	return e
}

// PreconditionError is spec §7's "Precondition failed" category: library not
// linked into the VFS, a target lacking its __start_anchor, a memory-type
// mismatch between target and library. Carries an optional closest-name
// suggestion.
type PreconditionError struct {
	Stage      string
	Target     string
	Message    string
	Suggestion string
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("%s: precondition failed", e.Stage)
	if e.Target != "" {
		msg += fmt.Sprintf(" (target %q)", e.Target)
	}
	msg += ": " + e.Message
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// NewPrecondition builds a PreconditionError, optionally computing a
// closest-name suggestion from candidates (empty candidates skips this).
func NewPrecondition(stage, target, message string, want string, candidates []string) *PreconditionError {
	pe := &PreconditionError{Stage: stage, Target: target, Message: message}
	if want != "" && len(candidates) > 0 {
		best, dist := names.ClosestName(want, candidates)
		if dist >= 0 {
			pe.Suggestion = best
		}
	}
	return pe
}

// StructuralError is spec §7's "IR structural violation" category: a pass
// found an import where it expected a local function, or zero/many matches
// where exactly one was required. These indicate a bug in the pipeline
// itself, not bad input, so they're always wrapped with the stage/target for
// triage.
type StructuralError struct {
	Stage   string
	Target  string
	Cause   error
}

func (e *StructuralError) Error() string {
	msg := fmt.Sprintf("%s: internal invariant violated", e.Stage)
	if e.Target != "" {
		msg += fmt.Sprintf(" (target %q)", e.Target)
	}
	return msg + ": " + e.Cause.Error()
}

func (e *StructuralError) Unwrap() error { return e.Cause }

func NewStructural(stage, target string, cause error) *StructuralError {
	return &StructuralError{Stage: stage, Target: target, Cause: cause}
}

// ExternalToolError is spec §7's "External tool failure" category: the
// optimizer/merger/transpiler exited non-zero. Stderr is surfaced verbatim.
type ExternalToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Cause  error
}

func (e *ExternalToolError) Error() string {
	return fmt.Sprintf("%s failed: %v\n%s", e.Tool, e.Cause, e.Stderr)
}

func (e *ExternalToolError) Unwrap() error { return e.Cause }

// Wrap is a thin re-export of pkg/errors.Wrap for the common "add context,
// keep cause" case elsewhere in the pipeline (package toolchain, runner).
func Wrap(err error, msg string) error { return errors.Wrap(err, msg) }

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Cause unwraps to the root cause, re-exported for callers that need to
// type-switch on an underlying *ExternalToolError etc. after layers of Wrap.
func Cause(err error) error { return errors.Cause(err) }
