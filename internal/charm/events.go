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

package charm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
)

const deferredEventsStateKey = "deferred-events"

// Event is one hook invocation, either the current one or a deferred one
// being re-run
type Event struct {
	Hook       string `json:"hook"`
	Relation   string `json:"relation,omitempty"`
	RemoteApp  string `json:"remote_app,omitempty"`
	RemoteUnit string `json:"remote_unit,omitempty"`

	rel *hookenv.Relation
}

// EventFromEnvironment describes the hook Juju is running
func EventFromEnvironment(env *hookenv.Environment) (*Event, error) {
	rel, err := env.Relation()
	if err != nil {
		return nil, err
	}
	return &Event{
		Hook:       env.HookName,
		Relation:   env.RelationID,
		RemoteApp:  env.RemoteApp,
		RemoteUnit: env.RemoteUnit,
		rel:        rel,
	}, nil
}

func (e *Event) parse() error {
	if e.Relation == "" {
		return nil
	}
	rel, err := hookenv.ParseRelation(e.Relation)
	if err != nil {
		return err
	}
	e.rel = &rel
	return nil
}

// RelationRef returns the relation of a relation event, or nil
func (e *Event) RelationRef() *hookenv.Relation {
	return e.rel
}

// Key identifies an event for deduplication
func (e *Event) Key() string {
	return e.Hook + "/" + e.Relation
}

func (e *Event) String() string {
	if e.Relation == "" {
		return e.Hook
	}
	return fmt.Sprintf("%s(%s)", e.Hook, e.Relation)
}

// IsRelationBroken reports whether the event is a relation-broken hook
func (e *Event) IsRelationBroken() bool {
	return strings.HasSuffix(e.Hook, "-relation-broken")
}

// loadDeferred reads the events deferred by earlier dispatches
func loadDeferred(ctx context.Context, hook *hookenv.Context) ([]*Event, error) {
	state, err := hook.StateGet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read unit state: %w", err)
	}
	raw := state[deferredEventsStateKey]
	if raw == "" {
		return nil, nil
	}

	var events []*Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, fmt.Errorf("failed to decode deferred events: %w", err)
	}
	for _, ev := range events {
		if err := ev.parse(); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// saveDeferred persists the events to re-run on the next dispatch
func saveDeferred(ctx context.Context, hook *hookenv.Context, events []*Event) error {
	if len(events) == 0 {
		return hook.StateDelete(ctx, deferredEventsStateKey)
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to encode deferred events: %w", err)
	}
	return hook.StateSet(ctx, map[string]string{deferredEventsStateKey: string(raw)})
}
