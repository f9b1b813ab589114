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
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
	"github.com/guided-traffic/glauth-k8s-operator/internal/integrations"
)

// condition reports whether it holds and, if so, the status message to show
type condition func(ctx context.Context) (bool, string, error)

func (c *Charm) containerNotConnected(context.Context) (bool, string, error) {
	if c.container.CanConnect() {
		return false, "", nil
	}
	return true, "Container is not connected yet", nil
}

func (c *Charm) integrationNotExists(name string) condition {
	return func(ctx context.Context) (bool, string, error) {
		relations, err := c.hook.Relations(ctx, name)
		if err != nil {
			return false, "", fmt.Errorf("failed to list %s relations: %w", name, err)
		}
		if len(relations) > 0 {
			return false, "", nil
		}
		return true, "Missing integration " + name, nil
	}
}

// certificatesIntegrationNotExists only matters while StartTLS is enabled
func (c *Charm) certificatesIntegrationNotExists(ctx context.Context) (bool, string, error) {
	if !c.config.StartTLS() {
		return false, "", nil
	}
	return c.integrationNotExists(integrations.CertificatesIntegrationName)(ctx)
}

func (c *Charm) databaseNotReady(ctx context.Context) (bool, string, error) {
	created, err := c.database.IsResourceCreated(ctx)
	if err != nil {
		return false, "", err
	}
	if created {
		return false, "", nil
	}
	return true, "Waiting for database creation", nil
}

func (c *Charm) tlsCertificatesNotReady(ctx context.Context) (bool, string, error) {
	if !c.config.StartTLS() {
		return false, "", nil
	}
	for _, p := range []string{configs.PrivateKeyPath, configs.CertificatePath} {
		exists, err := c.container.Exists(p)
		if err != nil {
			return false, "", fmt.Errorf("failed to check %s: %w", p, err)
		}
		if !exists {
			return true, "Missing TLS certificate and private key", nil
		}
	}
	return false, "", nil
}

// firstUnmet evaluates conditions in order and returns the message of the
// first one that holds
func firstUnmet(ctx context.Context, conditions ...condition) (string, bool, error) {
	for _, cond := range conditions {
		holds, msg, err := cond(ctx)
		if err != nil {
			return "", false, err
		}
		if holds {
			return msg, true, nil
		}
	}
	return "", false, nil
}

func (c *Charm) guard(ctx context.Context, ev *Event, status func(string) hookenv.Status, conditions ...condition) (bool, error) {
	msg, unmet, err := firstUnmet(ctx, conditions...)
	if err != nil || !unmet {
		return false, err
	}
	log.FromContext(ctx).Info("Condition not met", "event", ev.String(), "reason", msg)
	c.deferEvent(ctx, ev)
	return true, c.setStatus(ctx, status(msg))
}

// blockWhen defers ev and sets blocked when any condition holds. It
// returns true when the handler must stop.
func (c *Charm) blockWhen(ctx context.Context, ev *Event, conditions ...condition) (bool, error) {
	return c.guard(ctx, ev, hookenv.BlockedStatus, conditions...)
}

// waitWhen defers ev and sets waiting when any condition holds. It
// returns true when the handler must stop.
func (c *Charm) waitWhen(ctx context.Context, ev *Event, conditions ...condition) (bool, error) {
	return c.guard(ctx, ev, hookenv.WaitingStatus, conditions...)
}

// invalidConfig sets blocked when the configuration does not validate.
// It returns true when the handler must stop.
func (c *Charm) invalidConfig(ctx context.Context) (bool, error) {
	errs := c.config.Validate()
	if len(errs) == 0 {
		return false, nil
	}
	agg := errs.ToAggregate()
	log.FromContext(ctx).Error(agg, "Invalid charm configuration")
	return true, c.setStatus(ctx, hookenv.BlockedStatus("Invalid configuration: "+agg.Error()))
}
