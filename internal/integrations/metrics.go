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

package integrations

import (
	"context"
	"fmt"
	"strings"

	v1 "github.com/guided-traffic/glauth-k8s-operator/api/v1"
	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
)

const charmName = "glauth-k8s"

// MetricsEndpoint advertises the GLAuth metrics to prometheus
type MetricsEndpoint struct {
	hook *hookenv.Context
}

// NewMetricsEndpoint creates a MetricsEndpoint
func NewMetricsEndpoint(hook *hookenv.Context) *MetricsEndpoint {
	return &MetricsEndpoint{hook: hook}
}

// ScrapeJobs scrapes every unit on the API port
func (m *MetricsEndpoint) ScrapeJobs() []v1.ScrapeJob {
	return []v1.ScrapeJob{{
		MetricsPath:   "/metrics",
		StaticConfigs: []v1.StaticConfig{{Targets: []string{fmt.Sprintf("*:%d", configs.APIPort)}}},
	}}
}

// Publish sets the scrape jobs on rel, or on every metrics relation when
// rel is nil. The application part is only written by the leader.
func (m *MetricsEndpoint) Publish(ctx context.Context, leader bool, rel *hookenv.Relation) error {
	env := m.hook.Env()
	relations, err := targetRelations(ctx, m.hook, MetricsIntegrationName, rel)
	if err != nil {
		return err
	}

	appBag, err := v1.ScrapeDatabag(m.ScrapeJobs(), v1.ScrapeMetadata{
		Model:       env.ModelName,
		ModelUUID:   env.ModelUUID,
		Application: env.AppName(),
		CharmName:   charmName,
	})
	if err != nil {
		return err
	}
	unitBag := v1.Databag{
		"prometheus_scrape_unit_address": fmt.Sprintf("%s.%s-endpoints.%s.svc.cluster.local",
			unitHostname(env.UnitName), env.AppName(), env.ModelName),
		"prometheus_scrape_unit_name": env.UnitName,
	}

	for _, r := range relations {
		if leader {
			if err := m.hook.RelationSet(ctx, r, true, appBag); err != nil {
				return fmt.Errorf("failed to publish scrape jobs on %s: %w", r, err)
			}
		}
		if err := m.hook.RelationSet(ctx, r, false, unitBag); err != nil {
			return fmt.Errorf("failed to publish scrape address on %s: %w", r, err)
		}
	}
	return nil
}

// unitHostname turns "glauth-k8s/0" into the pod name "glauth-k8s-0"
func unitHostname(unit string) string {
	return strings.ReplaceAll(unit, "/", "-")
}
