/*
 * Copyright (c) 2025, Neobotnet Authors. All rights reserved.
 * See LICENSE for license information.
 */

package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caffeinedoom/neobotnet/pkg/common"
	commonerrors "github.com/caffeinedoom/neobotnet/pkg/errors"
	"github.com/caffeinedoom/neobotnet/pkg/registry"
)

// plan is the resolved shape of one asset's pipeline: the producer that
// discovers inputs plus the consumers that read its stream, in a launch
// order where every dependency precedes its dependents.
type plan struct {
	producer  string
	consumers []string

	deps       map[string][]string
	dependents map[string][]string
}

func (p *plan) all() []string {
	return append([]string{p.producer}, p.consumers...)
}

func (p *plan) roleOf(module string) string {
	if module == p.producer {
		return common.RoleProducer
	}
	return common.RoleConsumer
}

// upstreamOf returns the module whose output stream this consumer
// reads. With multiple dependencies the primary one is the first in
// lexical order; secondary streams are reachable through it.
func (p *plan) upstreamOf(module string) string {
	deps := append([]string(nil), p.deps[module]...)
	if len(deps) == 0 {
		return ""
	}
	sort.Strings(deps)
	return deps[0]
}

// hasDependents reports whether any module in the plan consumes this
// module's output.
func (p *plan) hasDependents(module string) bool {
	return len(p.dependents[module]) > 0
}

// resolve expands the requested modules to their transitive dependency
// closure and designates the producer. A dependency that is not
// explicitly requested is auto-included.
func resolve(reg *registry.Registry, requested []string) (*plan, error) {
	if len(requested) == 0 {
		return nil, commonerrors.NewConfigurationError("no modules requested")
	}

	closure := map[string][]string{}
	queue := append([]string(nil), requested...)
	for len(queue) > 0 {
		module := queue[0]
		queue = queue[1:]
		if _, seen := closure[module]; seen {
			continue
		}
		deps, err := reg.Dependencies(module)
		if err != nil {
			return nil, err
		}
		closure[module] = deps
		queue = append(queue, deps...)
	}

	ordered, err := topoSort(closure)
	if err != nil {
		return nil, err
	}

	var sources []string
	for module, deps := range closure {
		if len(deps) == 0 {
			sources = append(sources, module)
		}
	}
	if len(sources) != 1 {
		sort.Strings(sources)
		return nil, commonerrors.NewAmbiguousProducer(fmt.Sprintf(
			"expected exactly one source module, got %d: [%s]",
			len(sources), strings.Join(sources, ", ")))
	}

	result := &plan{
		producer:   sources[0],
		deps:       closure,
		dependents: map[string][]string{},
	}
	for module, deps := range closure {
		for _, dep := range deps {
			result.dependents[dep] = append(result.dependents[dep], module)
		}
	}
	for _, module := range ordered {
		if module != result.producer {
			result.consumers = append(result.consumers, module)
		}
	}
	return result, nil
}

// topoSort orders the closure so dependencies come first. The registry
// refuses cyclic catalogs at load time, but the closure is re-checked
// because the catalog can be reloaded underneath a running scan.
func topoSort(closure map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(closure))
	dependents := make(map[string][]string, len(closure))
	for module, deps := range closure {
		indegree[module] += 0
		for _, dep := range deps {
			indegree[module]++
			dependents[dep] = append(dependents[dep], module)
		}
	}

	var ready []string
	for module, degree := range indegree {
		if degree == 0 {
			ready = append(ready, module)
		}
	}
	sort.Strings(ready)

	ordered := make([]string, 0, len(closure))
	for len(ready) > 0 {
		module := ready[0]
		ready = ready[1:]
		ordered = append(ordered, module)
		next := append([]string(nil), dependents[module]...)
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	if len(ordered) != len(closure) {
		var stuck []string
		for module, degree := range indegree {
			if degree > 0 {
				stuck = append(stuck, module)
			}
		}
		sort.Strings(stuck)
		return nil, commonerrors.NewConfigurationError(fmt.Sprintf(
			"dependency cycle among modules: [%s]", strings.Join(stuck, ", ")))
	}
	return ordered, nil
}
