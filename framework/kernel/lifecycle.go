package kernel

import (
	"fmt"
	"io"
	"reflect"

	"go.uber.org/multierr"
)

// ── Lifecycle concerns ────────────────────────────────────────────────────────

// Initializer is commissioned right after construction.
type Initializer interface {
	Initialize() error
}

// Validatable is commissioned after Initialize, before the instance is
// handed to any caller.
type Validatable interface {
	Validate() error
}

// Disposable is decommissioned when the instance leaves its lifestyle.
type Disposable interface {
	Dispose() error
}

// ── Steps ─────────────────────────────────────────────────────────────────────

// StepFunc runs against one instance.
type StepFunc func(instance any) error

// Step is a named lifecycle hook.
type Step struct {
	Name string
	Fn   StepFunc
}

// LifecycleSteps holds the ordered commission and decommission steps of one
// handler. Attaching is idempotent per phase and name; running is not, every
// attached step runs each time its phase fires.
type LifecycleSteps struct {
	commission   []Step
	decommission []Step
	attached     map[string]struct{}
}

func newLifecycleSteps() *LifecycleSteps {
	return &LifecycleSteps{attached: make(map[string]struct{})}
}

// AddCommission attaches a commission step. It returns false if a step with
// the same name is already attached.
func (s *LifecycleSteps) AddCommission(step Step) bool {
	if !s.attach("commission/" + step.Name) {
		return false
	}
	s.commission = append(s.commission, step)
	return true
}

// AddDecommission attaches a decommission step. It returns false if a step
// with the same name is already attached.
func (s *LifecycleSteps) AddDecommission(step Step) bool {
	if !s.attach("decommission/" + step.Name) {
		return false
	}
	s.decommission = append(s.decommission, step)
	return true
}

func (s *LifecycleSteps) attach(key string) bool {
	if _, ok := s.attached[key]; ok {
		return false
	}
	s.attached[key] = struct{}{}
	return true
}

// Commission runs every commission step in order and stops at the first
// failure.
func (s *LifecycleSteps) Commission(instance any) error {
	for _, step := range s.commission {
		if err := runStep(step, instance); err != nil {
			return err
		}
	}
	return nil
}

// Decommission runs every decommission step, even after failures, and
// returns the combined error.
func (s *LifecycleSteps) Decommission(instance any) error {
	var errs error
	for _, step := range s.decommission {
		errs = multierr.Append(errs, runStep(step, instance))
	}
	return errs
}

// CommissionSteps returns the names of the commission steps in run order.
func (s *LifecycleSteps) CommissionSteps() []string { return stepNames(s.commission) }

// DecommissionSteps returns the names of the decommission steps in run order.
func (s *LifecycleSteps) DecommissionSteps() []string { return stepNames(s.decommission) }

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, st := range steps {
		names[i] = st.Name
	}
	return names
}

func runStep(step Step, instance any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s: panic: %v", step.Name, r)
		}
	}()
	if err := step.Fn(instance); err != nil {
		return fmt.Errorf("step %s: %w", step.Name, err)
	}
	return nil
}

// ── Inspectors ────────────────────────────────────────────────────────────────

// Inspector contributes lifecycle steps for a descriptor. Inspectors run once
// per handler, at registration.
type Inspector func(d *ComponentDescriptor, steps *LifecycleSteps)

var (
	initializerType = reflect.TypeFor[Initializer]()
	validatableType = reflect.TypeFor[Validatable]()
	disposableType  = reflect.TypeFor[Disposable]()
	closerType      = reflect.TypeFor[io.Closer]()
)

func defaultInspectors() []Inspector {
	return []Inspector{
		inspectCommission,
		inspectDecommission,
	}
}

func inspectCommission(d *ComponentDescriptor, steps *LifecycleSteps) {
	t := d.Implementation.Type
	if mayImplement(t, initializerType) {
		steps.AddCommission(Step{Name: "initialize", Fn: func(instance any) error {
			if i, ok := instance.(Initializer); ok {
				return i.Initialize()
			}
			return nil
		}})
	}
	if mayImplement(t, validatableType) {
		steps.AddCommission(Step{Name: "validate", Fn: func(instance any) error {
			if v, ok := instance.(Validatable); ok {
				return v.Validate()
			}
			return nil
		}})
	}
	for _, step := range d.OnCreate {
		steps.AddCommission(step)
	}
}

func inspectDecommission(d *ComponentDescriptor, steps *LifecycleSteps) {
	for _, step := range d.OnDestroy {
		steps.AddDecommission(step)
	}
	t := d.Implementation.Type
	if mayImplement(t, disposableType) {
		steps.AddDecommission(Step{Name: "dispose", Fn: func(instance any) error {
			if v, ok := instance.(Disposable); ok {
				return v.Dispose()
			}
			return nil
		}})
	}
	if mayImplement(t, closerType) {
		steps.AddDecommission(Step{Name: "close", Fn: func(instance any) error {
			if c, ok := instance.(io.Closer); ok {
				return c.Close()
			}
			return nil
		}})
	}
}

// mayImplement reports whether values produced for t can implement iface.
// Concrete types are checked exactly; unknown and interface types keep the
// step, which then type-asserts at run time.
func mayImplement(t, iface reflect.Type) bool {
	if t == nil || t.Kind() == reflect.Interface {
		return true
	}
	return t.Implements(iface)
}
