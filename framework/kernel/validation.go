package kernel

import (
	"github.com/go-playground/validator/v10"
)

// newDescriptorValidator returns the validator used by Register. Field tags
// on ComponentDescriptor cover the simple rules; the struct-level functions
// cover rules spanning several fields.
func newDescriptorValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateDescriptor, ComponentDescriptor{})
	v.RegisterStructValidation(validateDependency, DependencyModel{})
	return v
}

func validateDescriptor(sl validator.StructLevel) {
	d, ok := sl.Current().Interface().(ComponentDescriptor)
	if !ok {
		return
	}
	if d.Implementation.Factory == nil {
		sl.ReportError(d.Implementation, "Implementation", "Implementation", "required", "")
	}
	switch d.Lifestyle {
	case Custom:
		if d.CustomLifestyle == nil {
			sl.ReportError(d.CustomLifestyle, "CustomLifestyle", "CustomLifestyle", "required_if", "Lifestyle custom")
		}
	case Pooled:
		if d.Pool.MaxSize < 1 {
			sl.ReportError(d.Pool.MaxSize, "Pool.MaxSize", "MaxSize", "min", "1")
		}
		if d.Pool.MinSize > d.Pool.MaxSize {
			sl.ReportError(d.Pool.MinSize, "Pool.MinSize", "MinSize", "ltefield", "MaxSize")
		}
	}
	seen := make(map[string]bool, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		key := dep.Key()
		if seen[key] {
			sl.ReportError(d.Dependencies, "Dependencies", "Dependencies", "unique", key)
			return
		}
		seen[key] = true
	}
}

// validateDependency requires every dependency to be addressable: by name,
// by type, or both. Parameter dependencies are always addressed by name.
func validateDependency(sl validator.StructLevel) {
	dep, ok := sl.Current().Interface().(DependencyModel)
	if !ok {
		return
	}
	if dep.TargetName == "" && dep.RequiredType == "" {
		sl.ReportError(dep.TargetName, "TargetName", "TargetName", "required_without", "RequiredType")
	}
	if dep.Kind == ParameterDependency && dep.TargetName == "" {
		sl.ReportError(dep.TargetName, "TargetName", "TargetName", "required", "")
	}
}
