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

package workload

// Override is how a layer entry merges with the existing plan
type Override string

const (
	ReplaceOverride Override = "replace"
)

// Startup controls whether pebble starts a service on boot
type Startup string

const (
	StartupDisabled Startup = "disabled"
)

// Layer is a pebble configuration layer
type Layer struct {
	Summary     string              `yaml:"summary,omitempty"`
	Description string              `yaml:"description,omitempty"`
	Services    map[string]*Service `yaml:"services,omitempty"`
}

// Service is one service entry of a layer
type Service struct {
	Override    Override          `yaml:"override,omitempty"`
	Summary     string            `yaml:"summary,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Startup     Startup           `yaml:"startup,omitempty"`
	Command     string            `yaml:"command,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
}
