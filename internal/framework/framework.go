// Package framework runs named sets of QC checks over one dataset. A
// Framework is an ordered, immutable table of checks; a Registry holds the
// frameworks a process knows about; a Runner binds options to each requested
// check, runs it and collects the results by check name.
package framework

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/lox/rainfallqc/internal/climate"
	"github.com/lox/rainfallqc/internal/series"
)

var (
	ErrUnknownFramework = errors.New("unknown framework")
	ErrUnknownCheck     = errors.New("unknown check")
	ErrInvalidFramework = errors.New("invalid framework")
	ErrNegativeValues   = errors.New("negative values")
)

// Env is the data a run shares between its checks. Checks must not modify
// it.
type Env struct {
	Data    *series.Frame
	Climate climate.Reference // nil when no reference grid is loaded
}

// RunFunc executes a check with its bound options.
type RunFunc func(ctx context.Context, env Env, opts Options) (Result, error)

// Check is one entry of a framework table.
type Check struct {
	Name        string
	Description string
	Params      []string // option keys the check accepts
	Required    []string // subset of Params with no usable default
	NonNegative bool     // target column must not hold negative rainfall
	Run         RunFunc
}

// Framework is a named, ordered table of checks.
type Framework struct {
	name   string
	checks []Check
	index  map[string]int
}

// NewFramework builds a framework from checks in order. Names must be unique
// and every required key must also be a parameter.
func NewFramework(name string, checks ...Check) (*Framework, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidFramework)
	}
	fw := &Framework{name: name, index: make(map[string]int, len(checks))}
	for _, c := range checks {
		switch {
		case c.Name == "" || c.Name == SharedKey:
			return nil, fmt.Errorf("%w: %s: check name %q is not allowed", ErrInvalidFramework, name, c.Name)
		case c.Run == nil:
			return nil, fmt.Errorf("%w: %s: check %s has no run function", ErrInvalidFramework, name, c.Name)
		}
		if _, dup := fw.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate check %s", ErrInvalidFramework, name, c.Name)
		}
		for _, r := range c.Required {
			if !slices.Contains(c.Params, r) {
				return nil, fmt.Errorf("%w: %s: check %s requires undeclared option %s", ErrInvalidFramework, name, c.Name, r)
			}
		}
		c.Params = append([]string(nil), c.Params...)
		c.Required = append([]string(nil), c.Required...)
		fw.index[c.Name] = len(fw.checks)
		fw.checks = append(fw.checks, c)
	}
	return fw, nil
}

func (fw *Framework) Name() string { return fw.name }

// Check looks up a check by name.
func (fw *Framework) Check(name string) (Check, error) {
	i, ok := fw.index[name]
	if !ok {
		return Check{}, fmt.Errorf("%w: %s has no check %q", ErrUnknownCheck, fw.name, name)
	}
	return fw.checks[i], nil
}

// Names lists the checks in table order.
func (fw *Framework) Names() []string {
	out := make([]string, len(fw.checks))
	for i, c := range fw.checks {
		out[i] = c.Name
	}
	return out
}

// Registry maps framework names to frameworks. It is built once and only
// read afterwards.
type Registry struct {
	frameworks map[string]*Framework
}

// NewRegistry builds a registry from fws, rejecting duplicate names.
func NewRegistry(fws ...*Framework) (*Registry, error) {
	r := &Registry{frameworks: make(map[string]*Framework, len(fws))}
	for _, fw := range fws {
		if _, dup := r.frameworks[fw.name]; dup {
			return nil, fmt.Errorf("%w: duplicate framework %s", ErrInvalidFramework, fw.name)
		}
		r.frameworks[fw.name] = fw
	}
	return r, nil
}

// Lookup finds a framework by name.
func (r *Registry) Lookup(name string) (*Framework, error) {
	fw, ok := r.frameworks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownFramework, name, strings.Join(r.Names(), ", "))
	}
	return fw, nil
}

// Names lists the registered frameworks alphabetically.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.frameworks))
	for n := range r.frameworks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Builtins returns a registry holding the IntenseQC and pypwsqc frameworks.
func Builtins() *Registry {
	r, err := NewRegistry(IntenseQC(), PyPWSQC())
	if err != nil {
		panic(err)
	}
	return r
}
