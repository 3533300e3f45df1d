package kernel

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ── Error codes ───────────────────────────────────────────────────────────────

// Error code constants carried by every *Error the kernel returns.
const (
	CodeNameCollision         = "NAME_COLLISION"
	CodeComponentNotFound     = "COMPONENT_NOT_FOUND"
	CodeHandlerNotReady       = "HANDLER_NOT_READY"
	CodeCircularDependency    = "CIRCULAR_DEPENDENCY"
	CodeDependencyUnsatisfied = "DEPENDENCY_UNSATISFIED"
	CodeActivationFailure     = "ACTIVATION_FAILURE"
	CodeResourceExhausted     = "RESOURCE_EXHAUSTED"
	CodeInvalidDescriptor     = "INVALID_DESCRIPTOR"
	CodeKernelDisposed        = "KERNEL_DISPOSED"
)

// Sentinels for errors.Is. Matching is by code only.
//
//	if errors.Is(err, kernel.ErrHandlerNotReady) { ... }
var (
	ErrNameCollision         = &Error{Code: CodeNameCollision, Message: "component name already registered"}
	ErrComponentNotFound     = &Error{Code: CodeComponentNotFound, Message: "component not found"}
	ErrHandlerNotReady       = &Error{Code: CodeHandlerNotReady, Message: "handler is waiting for dependencies"}
	ErrCircularDependency    = &Error{Code: CodeCircularDependency, Message: "circular dependency"}
	ErrDependencyUnsatisfied = &Error{Code: CodeDependencyUnsatisfied, Message: "dependency could not be satisfied"}
	ErrActivationFailure     = &Error{Code: CodeActivationFailure, Message: "activation failed"}
	ErrResourceExhausted     = &Error{Code: CodeResourceExhausted, Message: "resource exhausted"}
	ErrInvalidDescriptor     = &Error{Code: CodeInvalidDescriptor, Message: "invalid component descriptor"}
	ErrKernelDisposed        = &Error{Code: CodeKernelDisposed, Message: "kernel has been disposed"}
)

// MissingDependency describes one unmet dependency of a waiting handler and
// the other waiting handlers that block it, in walk order.
type MissingDependency struct {
	Dependency DependencyModel
	Chain      []string
}

func (m MissingDependency) String() string {
	if len(m.Chain) == 0 {
		return m.Dependency.String()
	}
	return m.Dependency.String() + " (waiting on " + strings.Join(m.Chain, " -> ") + ")"
}

// Error is the structured error type returned by the kernel.
type Error struct {
	Code      string
	Component string
	Message   string

	// Members lists the components forming a cycle (CircularDependency).
	Members []string

	// Missing lists the unmet dependencies (HandlerNotReady).
	Missing []MissingDependency

	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString("component '")
		b.WriteString(e.Component)
		b.WriteString("': ")
	}
	b.WriteString(e.Message)
	if len(e.Missing) > 0 {
		parts := make([]string, len(e.Missing))
		for i, m := range e.Missing {
			parts[i] = m.String()
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is by comparing codes, so a sentinel matches any
// error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) string {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Code
	}
	return ""
}

// ── Constructors ──────────────────────────────────────────────────────────────

func errNameCollision(name string) *Error {
	return &Error{
		Code:      CodeNameCollision,
		Component: name,
		Message:   "a component with this name is already registered",
	}
}

func errComponentNotFound(key string) *Error {
	return &Error{
		Code:      CodeComponentNotFound,
		Component: key,
		Message:   "no component registered for this name or service",
	}
}

func errHandlerNotReady(name string, missing []MissingDependency) *Error {
	return &Error{
		Code:      CodeHandlerNotReady,
		Component: name,
		Message:   "handler is waiting for dependencies",
		Missing:   missing,
	}
}

func errCircularDependency(members []string) *Error {
	cycle := append(append([]string(nil), members...), members[0])
	return &Error{
		Code:      CodeCircularDependency,
		Component: members[0],
		Message:   "circular dependency: " + strings.Join(cycle, " -> "),
		Members:   members,
	}
}

// errConstructionStalled reports a wait on an instance another activation is
// building that outlived the activation timeout. The usual cause is a
// factory resolving its own component through a fresh activation.
func errConstructionStalled(name string, waited time.Duration) *Error {
	return &Error{
		Code:      CodeCircularDependency,
		Component: name,
		Message: fmt.Sprintf("circular dependency: %s is still under construction after %s; "+
			"resolve from factories with Activation.Resolve or WithContext(a.Context())", name, waited),
		Members: []string{name},
	}
}

func errDependencyUnsatisfied(name string, dep DependencyModel, cause error) *Error {
	return &Error{
		Code:      CodeDependencyUnsatisfied,
		Component: name,
		Message:   "dependency " + dep.String() + " could not be satisfied",
		Cause:     cause,
	}
}

func errActivationFailure(name, phase string, cause error) *Error {
	return &Error{
		Code:      CodeActivationFailure,
		Component: name,
		Message:   "activation failed during " + phase,
		Cause:     cause,
	}
}

func errResourceExhausted(name string, capacity int, cause error) *Error {
	return &Error{
		Code:      CodeResourceExhausted,
		Component: name,
		Message:   fmt.Sprintf("pool at capacity (%d)", capacity),
		Cause:     cause,
	}
}

func errInvalidDescriptor(name string, cause error) *Error {
	return &Error{
		Code:      CodeInvalidDescriptor,
		Component: name,
		Message:   "invalid component descriptor",
		Cause:     cause,
	}
}

func errKernelDisposed() *Error {
	return &Error{
		Code:    CodeKernelDisposed,
		Message: "kernel has been disposed",
	}
}
