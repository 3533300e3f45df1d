package diagnostics

import (
	"slices"

	"github.com/km-arc/go-microkernel/framework/kernel"
)

// ComponentView is the JSON shape of one handler.
type ComponentView struct {
	Name      string   `json:"name"`
	Services  []string `json:"services"`
	Lifestyle string   `json:"lifestyle"`
	State     string   `json:"state"`
}

// DependencyView is one declared dependency of a component.
type DependencyView struct {
	Kind     string `json:"kind"`
	Key      string `json:"key"`
	Type     string `json:"type,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Missing  bool   `json:"missing,omitempty"`
}

// ComponentDetail adds dependencies, lifecycle steps and runtime state.
type ComponentDetail struct {
	ComponentView
	Dependencies      []DependencyView  `json:"dependencies"`
	CommissionSteps   []string          `json:"commission_steps"`
	DecommissionSteps []string          `json:"decommission_steps"`
	Pool              *kernel.PoolStats `json:"pool,omitempty"`
	Failure           string            `json:"failure,omitempty"`
}

// Health summarises handler states. Status is "ok" when nothing is waiting
// or invalid, "degraded" otherwise.
type Health struct {
	Status  string `json:"status"`
	Valid   int    `json:"valid"`
	Waiting int    `json:"waiting"`
	Invalid int    `json:"invalid"`
}

func viewOf(h *kernel.Handler) ComponentView {
	services := make([]string, 0, len(h.Services()))
	for _, s := range h.Services() {
		services = append(services, s.String())
	}
	return ComponentView{
		Name:      h.Name(),
		Services:  services,
		Lifestyle: string(h.Lifestyle()),
		State:     h.State().String(),
	}
}

func detailOf(h *kernel.Handler) ComponentDetail {
	missing := h.MissingDependencies()
	deps := make([]DependencyView, 0)
	for _, d := range h.Descriptor().Dependencies {
		deps = append(deps, DependencyView{
			Kind:     d.Kind.String(),
			Key:      d.Key(),
			Type:     d.RequiredType.String(),
			Optional: d.Optional,
			Missing:  slices.Contains(missing, d),
		})
	}

	out := ComponentDetail{
		ComponentView:     viewOf(h),
		Dependencies:      deps,
		CommissionSteps:   h.CommissionSteps(),
		DecommissionSteps: h.DecommissionSteps(),
	}
	if stats, ok := h.PoolStats(); ok {
		out.Pool = &stats
	}
	if err := h.Failure(); err != nil {
		out.Failure = err.Error()
	}
	return out
}

func healthOf(handlers []*kernel.Handler) Health {
	var hl Health
	for _, h := range handlers {
		switch h.State() {
		case kernel.Valid:
			hl.Valid++
		case kernel.WaitingDependency:
			hl.Waiting++
		case kernel.Invalid:
			hl.Invalid++
		}
	}
	hl.Status = "ok"
	if hl.Waiting > 0 || hl.Invalid > 0 {
		hl.Status = "degraded"
	}
	return hl
}
