package kernel_test

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/km-arc/go-microkernel/framework/kernel"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type widget struct {
	name string
	seq  int64
	args map[string]any
}

func svc(name string) kernel.ServiceType { return kernel.ServiceType("svc." + name) }

// simple declares a singleton widget advertising svc(name).
func simple(name string, deps ...kernel.DependencyModel) kernel.ComponentDescriptor {
	return kernel.ComponentDescriptor{
		Name:     name,
		Services: []kernel.ServiceType{svc(name)},
		Implementation: kernel.FromFactory(func(a *kernel.Activation) (any, error) {
			return &widget{name: name, args: a.Args()}, nil
		}),
		Dependencies: deps,
	}
}

// counted declares a widget whose constructions are counted.
func counted(name string, lifestyle kernel.LifestyleKind, n *atomic.Int64) kernel.ComponentDescriptor {
	return kernel.ComponentDescriptor{
		Name:      name,
		Services:  []kernel.ServiceType{svc(name)},
		Lifestyle: lifestyle,
		Implementation: kernel.Construct(func(*kernel.Activation) (*widget, error) {
			return &widget{name: name, seq: n.Add(1)}, nil
		}),
	}
}

func failing(name string, err error) kernel.ComponentDescriptor {
	return kernel.ComponentDescriptor{
		Name:     name,
		Services: []kernel.ServiceType{svc(name)},
		Implementation: kernel.FromFactory(func(*kernel.Activation) (any, error) {
			return nil, err
		}),
	}
}

var errBoom = errors.New("boom")

// journal records lifecycle calls in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(s string) int {
	n := 0
	for _, e := range j.all() {
		if e == s {
			n++
		}
	}
	return n
}

// matching returns the entries ending in suffix, in order.
func (j *journal) matching(suffix string) []string {
	var out []string
	for _, e := range j.all() {
		if strings.HasSuffix(e, suffix) {
			out = append(out, e)
		}
	}
	return out
}

// recorder implements every lifecycle concern.
type recorder struct {
	name        string
	log         *journal
	failInit    bool
	failDispose bool
}

func (p *recorder) Initialize() error {
	p.log.add(p.name + ".initialize")
	if p.failInit {
		return errBoom
	}
	return nil
}

func (p *recorder) Validate() error {
	p.log.add(p.name + ".validate")
	return nil
}

func (p *recorder) Dispose() error {
	p.log.add(p.name + ".dispose")
	if p.failDispose {
		return errBoom
	}
	return nil
}

func (p *recorder) Close() error {
	p.log.add(p.name + ".close")
	return nil
}

func recorded(name string, lifestyle kernel.LifestyleKind, log *journal) kernel.ComponentDescriptor {
	return kernel.ComponentDescriptor{
		Name:      name,
		Services:  []kernel.ServiceType{svc(name)},
		Lifestyle: lifestyle,
		Implementation: kernel.Construct(func(*kernel.Activation) (*recorder, error) {
			return &recorder{name: name, log: log}, nil
		}),
	}
}

// consumer is a recorder that keeps the dependency it was built with.
type consumer struct {
	recorder
	dep any
}

// consuming declares a consumer advertising svc(name) that needs service.
func consuming(name string, lifestyle kernel.LifestyleKind, log *journal, service kernel.ServiceType) kernel.ComponentDescriptor {
	return kernel.ComponentDescriptor{
		Name:         name,
		Services:     []kernel.ServiceType{svc(name)},
		Lifestyle:    lifestyle,
		Dependencies: []kernel.DependencyModel{kernel.Needs(service)},
		Implementation: kernel.Construct(func(a *kernel.Activation) (*consumer, error) {
			dep, _ := a.Arg(string(service))
			return &consumer{recorder: recorder{name: name, log: log}, dep: dep}, nil
		}),
	}
}

// providing declares a recorded singleton advertising service instead of
// svc(name).
func providing(name string, service kernel.ServiceType, log *journal) kernel.ComponentDescriptor {
	d := recorded(name, kernel.Singleton, log)
	d.Services = []kernel.ServiceType{service}
	return d
}

func permutations(n int) [][]int {
	var out [][]int
	var walk func(prefix []int, used []bool)
	walk = func(prefix []int, used []bool) {
		if len(prefix) == n {
			out = append(out, append([]int(nil), prefix...))
			return
		}
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			used[i] = true
			walk(append(prefix, i), used)
			used[i] = false
		}
	}
	walk(nil, make([]bool, n))
	return out
}
