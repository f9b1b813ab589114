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

package hookenv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"
)

// Runner executes a hook tool and returns its standard output
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// ToolError is returned when a hook tool exits unsuccessfully
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExecRunner runs hook tools found on PATH
type ExecRunner struct{}

// Run implements Runner
func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- hook tool names are constants
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, &ToolError{Tool: name, Args: args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return out, nil
}

// Context gives access to the hook tools for the running hook
type Context struct {
	runner Runner
	env    *Environment
}

// NewContext creates a hook tool context
func NewContext(runner Runner, env *Environment) *Context {
	return &Context{runner: runner, env: env}
}

// Env returns the dispatch environment
func (c *Context) Env() *Environment {
	return c.env
}

func (c *Context) runJSON(ctx context.Context, out any, tool string, args ...string) error {
	raw, err := c.runner.Run(ctx, nil, tool, append(args, "--format=json")...)
	if err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s output: %w", tool, err)
	}
	return nil
}

func (c *Context) runYAMLInput(ctx context.Context, data map[string]string, tool string, args ...string) error {
	if data == nil {
		data = map[string]string{}
	}
	payload, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s input: %w", tool, err)
	}
	_, err = c.runner.Run(ctx, payload, tool, append(args, "--file", "-")...)
	return err
}

// ConfigGet decodes the whole charm configuration into out
func (c *Context) ConfigGet(ctx context.Context, out any) error {
	return c.runJSON(ctx, out, "config-get")
}

// IsLeader reports whether this unit holds application leadership
func (c *Context) IsLeader(ctx context.Context) (bool, error) {
	var leader bool
	if err := c.runJSON(ctx, &leader, "is-leader"); err != nil {
		return false, err
	}
	return leader, nil
}

// RelationIDs lists the established relations for an endpoint
func (c *Context) RelationIDs(ctx context.Context, name string) ([]Relation, error) {
	var raw []string
	if err := c.runJSON(ctx, &raw, "relation-ids", name); err != nil {
		return nil, err
	}
	relations := make([]Relation, 0, len(raw))
	for _, r := range raw {
		rel, err := ParseRelation(r)
		if err != nil {
			return nil, err
		}
		relations = append(relations, rel)
	}
	return relations, nil
}

// Relations lists the relations of an endpoint that are still usable.
// While a relation-broken hook runs, the broken relation is left out.
func (c *Context) Relations(ctx context.Context, name string) ([]Relation, error) {
	relations, err := c.RelationIDs(ctx, name)
	if err != nil {
		return nil, err
	}
	if c.env == nil || !strings.HasSuffix(c.env.HookName, "-relation-broken") {
		return relations, nil
	}

	live := relations[:0]
	for _, rel := range relations {
		if rel.String() != c.env.RelationID {
			live = append(live, rel)
		}
	}
	return live, nil
}

// RelationList lists the remote units of a relation
func (c *Context) RelationList(ctx context.Context, rel Relation) ([]string, error) {
	var units []string
	if err := c.runJSON(ctx, &units, "relation-list", "-r", rel.String()); err != nil {
		return nil, err
	}
	return units, nil
}

// RelationRemoteApp returns the name of the application on the other side
func (c *Context) RelationRemoteApp(ctx context.Context, rel Relation) (string, error) {
	if c.env != nil && c.env.RelationID == rel.String() && c.env.RemoteApp != "" {
		return c.env.RemoteApp, nil
	}

	units, err := c.RelationList(ctx, rel)
	if err != nil {
		return "", err
	}
	if len(units) > 0 {
		app, _, _ := strings.Cut(units[0], "/")
		return app, nil
	}

	var app string
	if err := c.runJSON(ctx, &app, "relation-list", "-r", rel.String(), "--app"); err != nil {
		return "", err
	}
	return app, nil
}

// RelationGet reads a databag. target is a unit name, or an application
// name when app is set.
func (c *Context) RelationGet(ctx context.Context, rel Relation, target string, app bool) (map[string]string, error) {
	args := []string{"-r", rel.String()}
	if app {
		args = append(args, "--app")
	}
	args = append(args, "-", target)

	data := map[string]string{}
	if err := c.runJSON(ctx, &data, "relation-get", args...); err != nil {
		return nil, err
	}
	return data, nil
}

// RelationSet updates this unit's databag, or the application databag when
// app is set. Empty values remove keys.
func (c *Context) RelationSet(ctx context.Context, rel Relation, app bool, data map[string]string) error {
	args := []string{"-r", rel.String()}
	if app {
		args = append(args, "--app")
	}
	return c.runYAMLInput(ctx, data, "relation-set", args...)
}

// StatusSet sets the workload status of this unit
func (c *Context) StatusSet(ctx context.Context, status Status) error {
	_, err := c.runner.Run(ctx, nil, "status-set", string(status.Name), status.Message)
	return err
}

// Log writes a message to the unit's debug log
func (c *Context) Log(ctx context.Context, level LogLevel, msg string) error {
	_, err := c.runner.Run(ctx, nil, "juju-log", "--log-level", string(level), msg)
	return err
}

// StateGet returns the unit's private key/value state
func (c *Context) StateGet(ctx context.Context) (map[string]string, error) {
	state := map[string]string{}
	if err := c.runJSON(ctx, &state, "state-get"); err != nil {
		return nil, err
	}
	return state, nil
}

// StateSet stores keys in the unit's private state
func (c *Context) StateSet(ctx context.Context, data map[string]string) error {
	return c.runYAMLInput(ctx, data, "state-set")
}

// StateDelete removes a key from the unit's private state
func (c *Context) StateDelete(ctx context.Context, key string) error {
	_, err := c.runner.Run(ctx, nil, "state-delete", key)
	return err
}

// SecretGet returns the content of a secret shared with this unit
func (c *Context) SecretGet(ctx context.Context, id string) (map[string]string, error) {
	content := map[string]string{}
	if err := c.runJSON(ctx, &content, "secret-get", id); err != nil {
		return nil, err
	}
	return content, nil
}
