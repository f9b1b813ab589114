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
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
	"github.com/guided-traffic/glauth-k8s-operator/internal/integrations"
	"github.com/guided-traffic/glauth-k8s-operator/internal/workload"
)

const restartFailedMessage = "Failed to restart the service, please check the logs"

// handleEventUpdate brings the workload in line with the configuration and
// the integrations
func (c *Charm) handleEventUpdate(ctx context.Context, ev *Event) error {
	if stop, err := c.invalidConfig(ctx); stop || err != nil {
		return err
	}
	if stop, err := c.blockWhen(ctx, ev,
		c.integrationNotExists(integrations.DatabaseIntegrationName),
		c.certificatesIntegrationNotExists,
	); stop || err != nil {
		return err
	}
	if stop, err := c.waitWhen(ctx, ev,
		c.containerNotConnected,
		c.databaseNotReady,
		c.tlsCertificatesNotReady,
	); stop || err != nil {
		return err
	}

	if err := c.setStatus(ctx, hookenv.MaintenanceStatus("Configuring GLAuth container")); err != nil {
		return err
	}

	content, err := c.renderConfig(ctx)
	if err != nil {
		return err
	}
	if err := c.updateGLAuthConfig(ctx, content); err != nil {
		return err
	}
	if err := c.container.AddLayer(configs.PebbleLayerLabel(), configs.PebbleLayer(), true); err != nil {
		return fmt.Errorf("failed to add pebble layer: %w", err)
	}

	restarted, err := c.restartGLAuthService(ctx, ev, content)
	if err != nil || !restarted {
		return err
	}
	return c.setStatus(ctx, hookenv.ActiveStatus())
}

// updateGLAuthConfig patches the ConfigMap; only the leader owns it
func (c *Charm) updateGLAuthConfig(ctx context.Context, content string) error {
	leader, err := c.isLeader(ctx)
	if err != nil || !leader {
		return err
	}
	return c.configMap.Patch(ctx, map[string]string{configs.ConfigFileName: content})
}

// restartGLAuthService waits for the mounted config to match expected and
// restarts GLAuth. It returns false when the service was not restarted.
func (c *Charm) restartGLAuthService(ctx context.Context, ev *Event, expected string) (bool, error) {
	logger := log.FromContext(ctx)

	if err := c.setStatus(ctx, hookenv.WaitingStatus("Waiting for configuration to be updated")); err != nil {
		return false, err
	}

	err := wait.PollUntilContextTimeout(ctx, c.syncInterval, c.syncTimeout, true, func(context.Context) (bool, error) {
		current, err := c.container.Pull(configs.ConfigFilePath)
		if err != nil {
			if workload.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return string(current) == expected, nil
	})
	if wait.Interrupted(err) {
		logger.Info("Timed out waiting for the configuration to be updated", "timeout", c.syncTimeout.String())
		c.deferEvent(ctx, ev)
		return false, c.setStatus(ctx, hookenv.WaitingStatus("Configuration not updated yet"))
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", configs.ConfigFilePath, err)
	}

	err = c.container.Restart(configs.WorkloadService)
	var changeErr *workload.ChangeError
	if errors.As(err, &changeErr) {
		logger.Error(err, "Failed to restart GLAuth")
		return false, c.setStatus(ctx, hookenv.BlockedStatus(restartFailedMessage))
	}
	if err != nil {
		return false, err
	}
	logger.Info("Restarted GLAuth")
	return true, nil
}
