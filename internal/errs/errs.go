/*
Copyright 2025 Pextra Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package errs defines the error kinds surfaced by pce commands.

Every failure a command reports is classified into one Kind, so the process
exit path can switch over the kinds instead of inspecting messages. The
underlying cause is preserved and reachable through errors.Is / errors.As.
*/
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a command failure.
type Kind int

const (
	// KindInternal is anything not classified below.
	KindInternal Kind = iota
	// KindUsage is a malformed invocation, detected before any work starts.
	KindUsage
	// KindSetup is a failure establishing the control-plane session.
	KindSetup
	// KindResolution is a reference that matched no resource, or several.
	KindResolution
	// KindRemoteAction is a failure reported by the control plane while
	// performing a mutating action.
	KindRemoteAction
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindSetup:
		return "setup"
	case KindResolution:
		return "resolution"
	case KindRemoteAction:
		return "remote-action"
	default:
		return "internal"
	}
}

var (
	// ErrNotFound is the reason of a resolution error with no match.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous is the reason of a resolution error with several matches.
	ErrAmbiguous = errors.New("ambiguous reference")
)

// Error is a classified command failure.
type Error struct {
	Kind Kind
	// Ref is the user supplied reference, for resolution errors.
	Ref string
	Msg string
	// Reason is a sentinel matched by errors.Is but not printed.
	Reason error
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return e.Reason != nil && target == e.Reason
}

// Usage returns a KindUsage error.
func Usage(format string, args ...any) error {
	return &Error{Kind: KindUsage, Msg: fmt.Sprintf(format, args...)}
}

// Setup classifies err as a session setup failure. The message of err is
// kept verbatim. A nil err gives nil; an already classified err is returned
// unchanged.
func Setup(err error) error {
	return classify(KindSetup, "", err)
}

// Resolution classifies err as a failure resolving ref.
func Resolution(ref string, err error) error {
	return classify(KindResolution, ref, err)
}

// RemoteAction annotates err with msg and classifies it as a failed remote
// action.
func RemoteAction(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindRemoteAction, Msg: msg, Err: err}
}

// NotFound reports that ref matched nothing.
func NotFound(ref, msg string) error {
	return &Error{Kind: KindResolution, Ref: ref, Msg: msg, Reason: ErrNotFound}
}

// Ambiguous reports that ref matched more than one resource.
func Ambiguous(ref, msg string) error {
	return &Error{Kind: KindResolution, Ref: ref, Msg: msg, Reason: ErrAmbiguous}
}

func classify(kind Kind, ref string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Ref: ref, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the text shown to the user for err: the classified error
// itself when there is one, without wrapping added by the pipeline.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

// ExitCode maps err to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindUsage:
		return 2
	case KindSetup, KindResolution, KindRemoteAction, KindInternal:
		return 1
	}
	return 1
}
