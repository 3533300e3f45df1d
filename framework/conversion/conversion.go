package conversion

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/km-arc/go-microkernel/framework/kernel"
)

// ErrUnsupported is wrapped by Convert when no converter is registered for
// the target type.
var ErrUnsupported = errors.New("no converter registered")

// Func converts one raw configuration literal.
type Func func(raw string) (any, error)

// ConversionError reports a literal that could not be converted.
type ConversionError struct {
	Target kernel.ServiceType
	Raw    string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %q to %s: %v", e.Raw, e.Target, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ── Manager ───────────────────────────────────────────────────────────────────

// Manager is the kernel's type-conversion collaborator. It maps service
// types to conversion functions and satisfies kernel.Converter.
//
//	conv := conversion.New()
//	conversion.Register(conv, func(raw string) (net.IP, error) {
//	    if ip := net.ParseIP(raw); ip != nil {
//	        return ip, nil
//	    }
//	    return nil, fmt.Errorf("not an IP address")
//	})
//	k := kernel.New(kernel.WithConverter(conv))
type Manager struct {
	mu    sync.RWMutex
	funcs map[kernel.ServiceType]Func
}

var _ kernel.Converter = (*Manager)(nil)

// New returns a Manager preloaded with the built-in converters (scalars,
// durations, timestamps, URLs, lists and maps).
func New() *Manager {
	m := &Manager{funcs: make(map[kernel.ServiceType]Func)}
	registerDefaults(m)
	return m
}

// Register sets the converter for t, replacing any existing one.
func (m *Manager) Register(t kernel.ServiceType, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[t] = fn
}

// CanConvert reports whether a converter is registered for t.
func (m *Manager) CanConvert(t kernel.ServiceType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.funcs[t]
	return ok
}

// Convert converts raw to t. Failures are *ConversionError.
func (m *Manager) Convert(raw string, t kernel.ServiceType) (any, error) {
	m.mu.RLock()
	fn, ok := m.funcs[t]
	m.mu.RUnlock()
	if !ok {
		return nil, &ConversionError{Target: t, Raw: raw, Err: ErrUnsupported}
	}
	v, err := fn(raw)
	if err != nil {
		return nil, &ConversionError{Target: t, Raw: raw, Err: err}
	}
	return v, nil
}

// Types returns the registered target types, sorted.
func (m *Manager) Types() []kernel.ServiceType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kernel.ServiceType, 0, len(m.funcs))
	for t := range m.funcs {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// ── Generics helpers ──────────────────────────────────────────────────────────

// Register sets a typed converter for kernel.ServiceOf[T].
func Register[T any](m *Manager, fn func(raw string) (T, error)) {
	m.Register(kernel.ServiceOf[T](), func(raw string) (any, error) {
		return fn(raw)
	})
}

// RegisterYAML converts literals to T by decoding them as YAML, which
// covers flow lists and maps as well as plain structs.
//
//	conversion.RegisterYAML[RetryPolicy](conv)
//	// Parameter("retry", "{attempts: 3, backoff: 2s}")
func RegisterYAML[T any](m *Manager) {
	Register(m, decodeYAML[T])
}

func decodeYAML[T any](raw string) (T, error) {
	var v T
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return v, err
	}
	return v, nil
}
