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
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Relation identifies one established integration
type Relation struct {
	Name string
	ID   int
}

// String renders the relation the way hook tools expect it, e.g. "ldap:3"
func (r Relation) String() string {
	return fmt.Sprintf("%s:%d", r.Name, r.ID)
}

// ParseRelation parses "name:id" as printed by relation-ids
func ParseRelation(s string) (Relation, error) {
	name, rawID, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return Relation{}, fmt.Errorf("invalid relation %q", s)
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return Relation{}, fmt.Errorf("invalid relation id in %q: %w", s, err)
	}
	return Relation{Name: name, ID: id}, nil
}

// Environment is what Juju tells the charm about the hook being run
type Environment struct {
	HookName     string
	UnitName     string
	ModelName    string
	ModelUUID    string
	CharmDir     string
	RelationName string
	RelationID   string
	RemoteApp    string
	RemoteUnit   string
	WorkloadName string
}

// NewEnvironment reads the dispatch environment through getenv, usually os.Getenv
func NewEnvironment(getenv func(string) string) (*Environment, error) {
	env := &Environment{
		UnitName:     getenv("JUJU_UNIT_NAME"),
		ModelName:    getenv("JUJU_MODEL_NAME"),
		ModelUUID:    getenv("JUJU_MODEL_UUID"),
		CharmDir:     getenv("JUJU_CHARM_DIR"),
		RelationName: getenv("JUJU_RELATION"),
		RelationID:   getenv("JUJU_RELATION_ID"),
		RemoteApp:    getenv("JUJU_REMOTE_APP"),
		RemoteUnit:   getenv("JUJU_REMOTE_UNIT"),
		WorkloadName: getenv("JUJU_WORKLOAD_NAME"),
	}

	// Dispatch sets the path of the legacy hook it stands in for
	if dispatch := getenv("JUJU_DISPATCH_PATH"); dispatch != "" {
		env.HookName = path.Base(dispatch)
	} else {
		env.HookName = getenv("JUJU_HOOK_NAME")
	}

	if env.HookName == "" {
		return nil, fmt.Errorf("neither JUJU_DISPATCH_PATH nor JUJU_HOOK_NAME is set")
	}
	if env.UnitName == "" {
		return nil, fmt.Errorf("JUJU_UNIT_NAME is not set")
	}

	return env, nil
}

// AppName is the application part of the unit name
func (e *Environment) AppName() string {
	app, _, _ := strings.Cut(e.UnitName, "/")
	return app
}

// Relation returns the relation the hook was fired for, if any
func (e *Environment) Relation() (*Relation, error) {
	if e.RelationID == "" {
		return nil, nil
	}
	rel, err := ParseRelation(e.RelationID)
	if err != nil {
		return nil, err
	}
	return &rel, nil
}
