/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package hookenvtest provides an in-memory Juju model that answers hook
// tool invocations, for testing code built on hookenv.
package hookenvtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
)

// Model is a fake Juju model seen from one unit. It implements hookenv.Runner.
type Model struct {
	mu sync.Mutex

	Unit   string
	Leader bool
	Config map[string]any

	// relations by endpoint, remote units and app per relation
	relations   map[string][]hookenv.Relation
	remoteApps  map[string]string
	remoteUnits map[string][]string
	databags    map[string]map[string]string

	State   map[string]string
	Secrets map[string]map[string]string

	Statuses []hookenv.Status
	Logs     []string

	// Commands records every non hook tool invocation, e.g. "update-ca-certificates --fresh"
	Commands []string
	// Failures makes the named command fail the given number of times
	Failures map[string]int
}

// NewModel creates a model for unit, e.g. "glauth-k8s/0"
func NewModel(unit string) *Model {
	return &Model{
		Unit:        unit,
		Config:      map[string]any{},
		relations:   map[string][]hookenv.Relation{},
		remoteApps:  map[string]string{},
		remoteUnits: map[string][]string{},
		databags:    map[string]map[string]string{},
		State:       map[string]string{},
		Secrets:     map[string]map[string]string{},
		Failures:    map[string]int{},
	}
}

// App returns the local application name
func (m *Model) App() string {
	app, _, _ := strings.Cut(m.Unit, "/")
	return app
}

// AddRelation establishes a relation with a remote application and its units
func (m *Model) AddRelation(endpoint string, id int, remoteApp string, units ...string) hookenv.Relation {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel := hookenv.Relation{Name: endpoint, ID: id}
	m.relations[endpoint] = append(m.relations[endpoint], rel)
	m.remoteApps[rel.String()] = remoteApp
	m.remoteUnits[rel.String()] = units
	return rel
}

// RemoveRelation drops a relation and its databags
func (m *Model) RemoveRelation(rel hookenv.Relation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rels := m.relations[rel.Name]
	for i, r := range rels {
		if r == rel {
			m.relations[rel.Name] = append(rels[:i], rels[i+1:]...)
			break
		}
	}
	for key := range m.databags {
		if strings.HasPrefix(key, rel.String()+"|") {
			delete(m.databags, key)
		}
	}
}

// Databag returns the databag of target, a unit or application name, on rel.
// The returned map is live.
func (m *Model) Databag(rel hookenv.Relation, target string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bag(rel, target)
}

func (m *Model) bag(rel hookenv.Relation, target string) map[string]string {
	key := rel.String() + "|" + target
	if m.databags[key] == nil {
		m.databags[key] = map[string]string{}
	}
	return m.databags[key]
}

// LastStatus returns the most recent unit status
func (m *Model) LastStatus() hookenv.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Statuses) == 0 {
		return hookenv.Status{}
	}
	return m.Statuses[len(m.Statuses)-1]
}

// Run implements hookenv.Runner
func (m *Model) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	asJSON := false
	if n := len(args); n > 0 && args[n-1] == "--format=json" {
		asJSON = true
		args = args[:n-1]
	}

	var (
		out any
		err error
	)
	switch name {
	case "config-get":
		out = m.Config
	case "is-leader":
		out = m.Leader
	case "relation-ids":
		ids := []string{}
		for _, rel := range m.relations[args[0]] {
			ids = append(ids, rel.String())
		}
		out = ids
	case "relation-list":
		out, err = m.relationList(args)
	case "relation-get":
		out, err = m.relationGet(args)
	case "relation-set":
		err = m.relationSet(args, stdin)
	case "status-set":
		err = m.statusSet(args)
	case "juju-log":
		m.Logs = append(m.Logs, args[len(args)-1])
	case "state-get":
		out = copyMap(m.State)
	case "state-set":
		err = mergeYAML(m.State, stdin)
	case "state-delete":
		delete(m.State, args[0])
	case "secret-get":
		content, ok := m.Secrets[args[0]]
		if !ok {
			err = fmt.Errorf("secret %q not found", args[0])
		}
		out = content
	default:
		cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
		m.Commands = append(m.Commands, cmd)
		if m.Failures[cmd] > 0 {
			m.Failures[cmd]--
			return nil, &hookenv.ToolError{Tool: name, Args: args, Err: fmt.Errorf("exit status 1")}
		}
		return nil, nil
	}
	if err != nil {
		return nil, &hookenv.ToolError{Tool: name, Args: args, Err: err}
	}
	if !asJSON || out == nil {
		return nil, nil
	}
	return json.Marshal(out)
}

func relationArg(args []string) (hookenv.Relation, []string, error) {
	if len(args) < 2 || args[0] != "-r" {
		return hookenv.Relation{}, nil, fmt.Errorf("missing -r in %v", args)
	}
	rel, err := hookenv.ParseRelation(args[1])
	return rel, args[2:], err
}

func (m *Model) known(rel hookenv.Relation) bool {
	for _, r := range m.relations[rel.Name] {
		if r == rel {
			return true
		}
	}
	return false
}

func (m *Model) relationList(args []string) (any, error) {
	rel, rest, err := relationArg(args)
	if err != nil {
		return nil, err
	}
	if !m.known(rel) {
		return nil, fmt.Errorf("relation %s not found", rel)
	}
	if len(rest) > 0 && rest[0] == "--app" {
		return m.remoteApps[rel.String()], nil
	}
	units := append([]string{}, m.remoteUnits[rel.String()]...)
	sort.Strings(units)
	return units, nil
}

func (m *Model) relationGet(args []string) (any, error) {
	rel, rest, err := relationArg(args)
	if err != nil {
		return nil, err
	}
	if !m.known(rel) {
		return nil, fmt.Errorf("relation %s not found", rel)
	}
	if len(rest) > 0 && rest[0] == "--app" {
		rest = rest[1:]
	}
	if len(rest) != 2 || rest[0] != "-" {
		return nil, fmt.Errorf("unsupported relation-get arguments %v", args)
	}
	return copyMap(m.bag(rel, rest[1])), nil
}

func (m *Model) relationSet(args []string, stdin []byte) error {
	rel, rest, err := relationArg(args)
	if err != nil {
		return err
	}
	if !m.known(rel) {
		return fmt.Errorf("relation %s not found", rel)
	}
	target := m.Unit
	if len(rest) > 0 && rest[0] == "--app" {
		if !m.Leader {
			return fmt.Errorf("cannot write application data: not the leader")
		}
		target = m.App()
	}
	return mergeYAML(m.bag(rel, target), stdin)
}

func (m *Model) statusSet(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("status-set needs a status")
	}
	status := hookenv.Status{Name: hookenv.StatusName(args[0])}
	if len(args) > 1 {
		status.Message = args[1]
	}
	m.Statuses = append(m.Statuses, status)
	return nil
}

func mergeYAML(dst map[string]string, stdin []byte) error {
	data := map[string]string{}
	if err := yaml.Unmarshal(stdin, &data); err != nil {
		return err
	}
	for k, v := range data {
		if v == "" {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
	return nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
