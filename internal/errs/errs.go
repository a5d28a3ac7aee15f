// Package errs classifies pipeline failures by kind and stage so callers can
// report the offending asset without inspecting transport or subprocess types.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Kind is a coarse-grained categorization for pipeline errors.
type Kind string

const (
	KindPattern         Kind = "pattern"
	KindTransport       Kind = "transport"
	KindRead            Kind = "read"
	KindSubprocess      Kind = "subprocess"
	KindPublishConflict Kind = "publish_conflict"
)

// Stage names the pipeline step an error originated from.
type Stage string

const (
	StageRelease   Stage = "release"
	StageSelect    Stage = "select"
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StagePublish   Stage = "publish"
	StageKey       Stage = "key"
)

// Error wraps an underlying cause with its kind, stage and the asset or
// output name it concerns.
type Error struct {
	Kind  Kind
	Stage Stage
	Name  string // optional: asset or output name
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		fmt.Fprintf(&b, " (%s)", e.Stage)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds an *Error. A nil cause yields nil so call sites can wrap
// unconditionally.
func New(kind Kind, stage Stage, name string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Stage: stage, Name: name, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of kind.
// Aggregates are searched element by element.
func IsKind(err error, kind Kind) bool {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			if IsKind(e, kind) {
				return true
			}
		}
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Names returns the asset/output names carried by err, flattening aggregates.
func Names(err error) []string {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		var out []string
		for _, e := range merr.Errors {
			out = append(out, Names(e)...)
		}
		return out
	}
	var e *Error
	if errors.As(err, &e) && e.Name != "" {
		return []string{e.Name}
	}
	return nil
}

func formatErrors(es []error) string {
	if len(es) == 1 {
		return fmt.Sprintf("1 error occurred:\n\t* %s", es[0])
	}

	points := make([]string, len(es))
	for i, err := range es {
		points[i] = fmt.Sprintf("* %s", err)
	}

	return fmt.Sprintf(
		"%d errors occurred:\n\t%s",
		len(es), strings.Join(points, "\n\t"))
}

// FormatErrorOrNil applies the bulleted formatter and collapses an empty
// aggregate to nil.
func FormatErrorOrNil(err *multierror.Error) error {
	if err != nil {
		err.ErrorFormat = formatErrors
	}
	return err.ErrorOrNil()
}
