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
	"time"

	"github.com/spf13/afero"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
	"github.com/guided-traffic/glauth-k8s-operator/internal/integrations"
	"github.com/guided-traffic/glauth-k8s-operator/internal/ldap"
)

const (
	certificatesFailedMessage = "Failed to update the TLS certificates, please check the logs"
	probeFailedMessage        = "GLAuth is not responding, please check the logs"
	probeTimeout              = 10 * time.Second
)

func (c *Charm) onInstall(ctx context.Context, _ *Event) error {
	leader, err := c.isLeader(ctx)
	if err != nil || !leader {
		return err
	}

	content, err := c.renderConfig(ctx)
	if err != nil {
		return err
	}
	if err := c.configMap.Create(ctx, map[string]string{configs.ConfigFileName: content}); err != nil {
		return err
	}
	if err := c.mountGLAuthConfig(ctx); err != nil {
		return err
	}
	return c.service.EnsurePort(ctx, "ldap", configs.LdapPort)
}

func (c *Charm) onLeaderElected(ctx context.Context, _ *Event) error {
	leader, err := c.isLeader(ctx)
	if err != nil || !leader {
		return err
	}

	_, err = c.configMap.Get(ctx)
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	if apierrors.IsNotFound(err) {
		content, err := c.renderConfig(ctx)
		if err != nil {
			return err
		}
		if err := c.configMap.Create(ctx, map[string]string{configs.ConfigFileName: content}); err != nil {
			return err
		}
	}
	if err := c.mountGLAuthConfig(ctx); err != nil {
		return err
	}
	if err := c.service.EnsurePort(ctx, "ldap", configs.LdapPort); err != nil {
		return err
	}
	return c.metrics.Publish(ctx, true, nil)
}

func (c *Charm) mountGLAuthConfig(ctx context.Context) error {
	return c.statefulSet.MountConfig(ctx, configs.WorkloadContainer, c.configMap.Name(), configs.ConfigDir)
}

func (c *Charm) onRemove(ctx context.Context, _ *Event) error {
	leader, err := c.isLeader(ctx)
	if err != nil || !leader {
		return err
	}
	return c.configMap.Delete(ctx)
}

func (c *Charm) onConfigChanged(ctx context.Context, ev *Event) error {
	if stop, err := c.invalidConfig(ctx); stop || err != nil {
		return err
	}

	// a new hostname needs a certificate with new SANs
	if err := c.certs.RequestCertificate(ctx, nil); err != nil {
		return err
	}

	if err := c.handleEventUpdate(ctx, ev); err != nil {
		return err
	}

	leader, err := c.isLeader(ctx)
	if err != nil {
		return err
	}
	if leader {
		if err := c.ldap.UpdateRelationsAppData(ctx, c.ldap.ProviderBaseData().Databag(), nil); err != nil {
			return err
		}
	}
	return c.metrics.Publish(ctx, leader, nil)
}

func (c *Charm) onPebbleReady(ctx context.Context, ev *Event) error {
	if stop, err := c.waitWhen(ctx, ev, c.containerNotConnected); stop || err != nil {
		return err
	}

	isDir, err := c.container.IsDir(configs.LogDir)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", configs.LogDir, err)
	}
	if !isDir {
		if err := c.container.MakeDir(configs.LogDir, true); err != nil {
			return fmt.Errorf("failed to create %s: %w", configs.LogDir, err)
		}
		log.FromContext(ctx).V(1).Info("Created logging directory", "path", configs.LogDir)
	}

	return c.handleEventUpdate(ctx, ev)
}

// onUpdateStatus reports on the workload without deferring anything
func (c *Charm) onUpdateStatus(ctx context.Context, _ *Event) error {
	if stop, err := c.invalidConfig(ctx); stop || err != nil {
		return err
	}

	msg, unmet, err := firstUnmet(ctx,
		c.integrationNotExists(integrations.DatabaseIntegrationName),
		c.certificatesIntegrationNotExists,
	)
	if err != nil {
		return err
	}
	if unmet {
		return c.setStatus(ctx, hookenv.BlockedStatus(msg))
	}

	msg, unmet, err = firstUnmet(ctx, c.containerNotConnected, c.databaseNotReady, c.tlsCertificatesNotReady)
	if err != nil {
		return err
	}
	if unmet {
		return c.setStatus(ctx, hookenv.WaitingStatus(msg))
	}

	if err := c.probe(c.probeConfig(ctx)); err != nil {
		log.FromContext(ctx).Error(err, "LDAP probe failed")
		return c.setStatus(ctx, hookenv.BlockedStatus(probeFailedMessage))
	}
	return c.setStatus(ctx, hookenv.ActiveStatus())
}

// probeConfig dials GLAuth through the pod network namespace
func (c *Charm) probeConfig(ctx context.Context) *ldap.Config {
	cfg := &ldap.Config{
		URL:      ldap.URL("127.0.0.1", configs.LdapPort),
		BaseDN:   c.config.BaseDN,
		StartTLS: c.config.StartTLS(),
		Timeout:  probeTimeout,
	}
	if cfg.StartTLS {
		cfg.ServerName = c.config.Hostname
		ca, err := afero.ReadFile(c.fs, configs.CACertPath)
		if err != nil {
			log.FromContext(ctx).Info("No local CA certificate, using system roots", "path", configs.CACertPath)
		}
		cfg.CACert = ca
	}
	return cfg
}

func (c *Charm) onDatabaseRelationJoined(ctx context.Context, ev *Event) error {
	leader, err := c.isLeader(ctx)
	if err != nil || !leader {
		return err
	}
	return c.database.Request(ctx, *ev.RelationRef())
}

func (c *Charm) onDatabaseChanged(ctx context.Context, ev *Event) error {
	if err := c.handleEventUpdate(ctx, ev); err != nil {
		return err
	}
	return c.updateAuxiliaryData(ctx, nil)
}

func (c *Charm) onDatabaseBroken(ctx context.Context, ev *Event) error {
	return c.handleEventUpdate(ctx, ev)
}

// updateAuxiliaryData shares the database once it exists
func (c *Charm) updateAuxiliaryData(ctx context.Context, rel *hookenv.Relation) error {
	leader, err := c.isLeader(ctx)
	if err != nil || !leader {
		return err
	}
	created, err := c.database.IsResourceCreated(ctx)
	if err != nil || !created {
		return err
	}
	db, err := c.database.Config(ctx)
	if err != nil {
		return err
	}
	return c.auxiliary.UpdateRelationsAppData(ctx, c.auxiliary.AuxiliaryData(db), rel)
}

func (c *Charm) onLdapRequested(ctx context.Context, ev *Event) error {
	leader, err := c.isLeader(ctx)
	if err != nil || !leader {
		return err
	}
	if stop, err := c.waitWhen(ctx, ev, c.databaseNotReady); stop || err != nil {
		return err
	}

	rel := ev.RelationRef()
	req, err := c.ldap.RequirerData(ctx, *rel)
	if err != nil {
		log.FromContext(ctx).Error(err, "Ignoring ldap request", "relation", rel.String())
		return nil
	}
	if req == nil {
		log.FromContext(ctx).Info("The LDAP requirer does not provide necessary data", "relation", rel.String())
		return nil
	}

	db, err := c.database.Config(ctx)
	if err != nil {
		return err
	}
	if err := c.ldap.LoadBindAccount(ctx, db, req.User, req.Group); err != nil {
		if errors.Is(err, integrations.ErrPeerRelationNotReady) {
			c.deferEvent(ctx, ev)
			return nil
		}
		return err
	}
	return c.ldap.UpdateRelationsAppData(ctx, c.ldap.ProviderData().Databag(), rel)
}

func (c *Charm) onAuxiliaryRequested(ctx context.Context, ev *Event) error {
	if stop, err := c.waitWhen(ctx, ev, c.databaseNotReady); stop || err != nil {
		return err
	}
	return c.updateAuxiliaryData(ctx, ev.RelationRef())
}

func (c *Charm) onCertificatesRelationJoined(ctx context.Context, ev *Event) error {
	return c.certs.RequestCertificate(ctx, ev.RelationRef())
}

func (c *Charm) onCertChanged(ctx context.Context, ev *Event) error {
	if stop, err := c.waitWhen(ctx, ev, c.containerNotConnected); stop || err != nil {
		return err
	}

	err := c.certs.UpdateCertificates(ctx)
	var certErr *integrations.CertificatesError
	if errors.As(err, &certErr) {
		log.FromContext(ctx).Error(err, "Failed to update the TLS certificates")
		return c.setStatus(ctx, hookenv.BlockedStatus(certificatesFailedMessage))
	}
	if err != nil {
		return err
	}

	if err := c.handleEventUpdate(ctx, ev); err != nil {
		return err
	}

	data, err := c.certs.CertData(ctx)
	if err != nil {
		return err
	}
	return c.transfer.TransferCertificates(ctx, data, nil)
}

func (c *Charm) onCertificatesTransferRelationJoined(ctx context.Context, ev *Event) error {
	data, err := c.certs.CertData(ctx)
	if err != nil {
		return err
	}
	if !data.Ready() {
		c.deferEvent(ctx, ev)
		return nil
	}
	return c.transfer.TransferCertificates(ctx, data, ev.RelationRef())
}

func (c *Charm) onMetricsEndpointRelationJoined(ctx context.Context, ev *Event) error {
	leader, err := c.isLeader(ctx)
	if err != nil {
		return err
	}
	return c.metrics.Publish(ctx, leader, ev.RelationRef())
}
