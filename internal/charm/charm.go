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
	"io/fs"
	"time"

	"github.com/spf13/afero"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/guided-traffic/glauth-k8s-operator/api/v1"
	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
	"github.com/guided-traffic/glauth-k8s-operator/internal/integrations"
	"github.com/guided-traffic/glauth-k8s-operator/internal/kubernetes"
	"github.com/guided-traffic/glauth-k8s-operator/internal/ldap"
	"github.com/guided-traffic/glauth-k8s-operator/internal/workload"
)

const (
	defaultConfigSyncInterval = 3 * time.Second
	defaultConfigSyncTimeout  = 2 * time.Minute
)

// Container is the workload container as seen by the charm
type Container interface {
	CanConnect() bool
	Exists(p string) (bool, error)
	IsDir(p string) (bool, error)
	MakeDir(p string, makeParents bool) error
	Push(p string, content []byte, perm fs.FileMode) error
	Pull(p string) ([]byte, error)
	RemovePath(p string) error
	AddLayer(label string, layer *workload.Layer, combine bool) error
	Restart(services ...string) error
}

// ProbeFunc checks that an LDAP server answers
type ProbeFunc func(config *ldap.Config) error

// Options wires a Charm to its environment
type Options struct {
	// Hook gives access to the hook tools
	Hook *hookenv.Context
	// Client talks to the Kubernetes API of the model
	Client client.Client
	// Container is the GLAuth workload container
	Container Container
	// FS is the charm container filesystem
	FS afero.Fs
	// Runner executes commands in the charm container
	Runner hookenv.Runner
	// BindAccount provisions ldap bind accounts; Postgres when nil
	BindAccount integrations.BindAccountFunc
	// Probe checks the running server on update-status; ldap.Probe when nil
	Probe ProbeFunc

	ConfigSyncInterval time.Duration
	ConfigSyncTimeout  time.Duration
	CertRetryDelay     time.Duration
}

// Charm handles one dispatch of the GLAuth charm
type Charm struct {
	hook      *hookenv.Context
	env       *hookenv.Environment
	config    *v1.CharmConfig
	container Container
	fs        afero.Fs
	probe     ProbeFunc

	configMap   *kubernetes.ConfigMapResource
	statefulSet *kubernetes.StatefulSetResource
	service     *kubernetes.ServiceResource

	database  *integrations.DatabaseRequirer
	ldap      *integrations.LdapIntegration
	auxiliary *integrations.AuxiliaryIntegration
	certs     *integrations.CertificatesIntegration
	transfer  *integrations.CertificatesTransferIntegration
	metrics   *integrations.MetricsEndpoint

	syncInterval time.Duration
	syncTimeout  time.Duration

	leader   *bool
	deferred []*Event
}

// New reads the charm configuration and builds the charm
func New(ctx context.Context, opts Options) (*Charm, error) {
	env := opts.Hook.Env()

	config := &v1.CharmConfig{}
	if err := opts.Hook.ConfigGet(ctx, config); err != nil {
		return nil, fmt.Errorf("failed to read charm config: %w", err)
	}
	config.SetDefaults()

	app, namespace := env.AppName(), env.ModelName
	peers := integrations.NewPeerStore(opts.Hook)

	c := &Charm{
		hook:         opts.Hook,
		env:          env,
		config:       config,
		container:    opts.Container,
		fs:           opts.FS,
		probe:        opts.Probe,
		configMap:    kubernetes.NewConfigMapResource(opts.Client, app, namespace),
		statefulSet:  kubernetes.NewStatefulSetResource(opts.Client, app, namespace),
		service:      kubernetes.NewServiceResource(opts.Client, app, namespace),
		database:     integrations.NewDatabaseRequirer(opts.Hook),
		ldap:         integrations.NewLdapIntegration(opts.Hook, config, peers, opts.BindAccount),
		auxiliary:    integrations.NewAuxiliaryIntegration(opts.Hook),
		certs:        integrations.NewCertificatesIntegration(opts.Hook, config, opts.FS, opts.Runner, opts.Container),
		transfer:     integrations.NewCertificatesTransferIntegration(opts.Hook),
		metrics:      integrations.NewMetricsEndpoint(opts.Hook),
		syncInterval: opts.ConfigSyncInterval,
		syncTimeout:  opts.ConfigSyncTimeout,
	}
	if c.probe == nil {
		c.probe = ldap.Probe
	}
	if c.syncInterval <= 0 {
		c.syncInterval = defaultConfigSyncInterval
	}
	if c.syncTimeout <= 0 {
		c.syncTimeout = defaultConfigSyncTimeout
	}
	if opts.CertRetryDelay > 0 {
		c.certs.WithRetryDelay(opts.CertRetryDelay)
	}
	return c, nil
}

type handler func(ctx context.Context, ev *Event) error

func (c *Charm) handlers() map[string]handler {
	return map[string]handler{
		"install":             c.onInstall,
		"leader-elected":      c.onLeaderElected,
		"config-changed":      c.onConfigChanged,
		"glauth-pebble-ready": c.onPebbleReady,
		"update-status":       c.onUpdateStatus,
		"remove":              c.onRemove,

		integrations.DatabaseIntegrationName + "-relation-joined":  c.onDatabaseRelationJoined,
		integrations.DatabaseIntegrationName + "-relation-changed": c.onDatabaseChanged,
		integrations.DatabaseIntegrationName + "-relation-broken":  c.onDatabaseBroken,

		integrations.LdapIntegrationName + "-relation-changed": c.onLdapRequested,

		integrations.AuxiliaryIntegrationName + "-relation-created": c.onAuxiliaryRequested,
		integrations.AuxiliaryIntegrationName + "-relation-changed": c.onAuxiliaryRequested,

		integrations.CertificatesIntegrationName + "-relation-joined":  c.onCertificatesRelationJoined,
		integrations.CertificatesIntegrationName + "-relation-changed": c.onCertChanged,
		integrations.CertificatesIntegrationName + "-relation-broken":  c.onCertChanged,

		integrations.CertificatesTransferIntegrationName + "-relation-joined": c.onCertificatesTransferRelationJoined,

		integrations.MetricsIntegrationName + "-relation-joined": c.onMetricsEndpointRelationJoined,
	}
}

// Dispatch re-runs deferred events, then handles the current hook, then
// persists whatever was deferred during this dispatch
func (c *Charm) Dispatch(ctx context.Context) error {
	logger := log.FromContext(ctx)

	current, err := EventFromEnvironment(c.env)
	if err != nil {
		return err
	}
	pending, err := loadDeferred(ctx, c.hook)
	if err != nil {
		return err
	}

	handlers := c.handlers()
	for _, ev := range pending {
		if ev.Key() == current.Key() {
			continue
		}
		live, err := c.relationAlive(ctx, ev)
		if err != nil {
			return err
		}
		if !live {
			logger.Info("Dropping deferred event of a departed relation", "event", ev.String())
			continue
		}
		logger.Info("Re-running deferred event", "event", ev.String())
		if err := c.handle(ctx, handlers, ev); err != nil {
			return err
		}
	}

	if err := c.handle(ctx, handlers, current); err != nil {
		return err
	}
	return saveDeferred(ctx, c.hook, c.deferred)
}

func (c *Charm) handle(ctx context.Context, handlers map[string]handler, ev *Event) error {
	h, ok := handlers[ev.Hook]
	if !ok {
		log.FromContext(ctx).V(1).Info("No handler for event", "event", ev.String())
		return nil
	}
	log.FromContext(ctx).V(1).Info("Handling event", "event", ev.String())
	if err := h(ctx, ev); err != nil {
		return fmt.Errorf("failed to handle %s: %w", ev, err)
	}
	return nil
}

// relationAlive reports whether the relation of a deferred event still exists
func (c *Charm) relationAlive(ctx context.Context, ev *Event) (bool, error) {
	rel := ev.RelationRef()
	if rel == nil {
		return true, nil
	}
	if ev.IsRelationBroken() {
		return true, nil
	}
	relations, err := c.hook.Relations(ctx, rel.Name)
	if err != nil {
		return false, err
	}
	for _, r := range relations {
		if r == *rel {
			return true, nil
		}
	}
	return false, nil
}

// deferEvent schedules ev to run again on the next dispatch
func (c *Charm) deferEvent(ctx context.Context, ev *Event) {
	for _, d := range c.deferred {
		if d.Key() == ev.Key() {
			return
		}
	}
	log.FromContext(ctx).Info("Deferring event", "event", ev.String())
	c.deferred = append(c.deferred, ev)
}

func (c *Charm) isLeader(ctx context.Context) (bool, error) {
	if c.leader == nil {
		leader, err := c.hook.IsLeader(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to check leadership: %w", err)
		}
		c.leader = &leader
	}
	return *c.leader, nil
}

func (c *Charm) setStatus(ctx context.Context, status hookenv.Status) error {
	if err := c.hook.StatusSet(ctx, status); err != nil {
		return fmt.Errorf("failed to set status %s: %w", status, err)
	}
	return nil
}

// renderConfig renders glauth.cfg for the current configuration and database
func (c *Charm) renderConfig(ctx context.Context) (string, error) {
	db, err := c.database.Config(ctx)
	if err != nil {
		return "", err
	}
	file := configs.ConfigFile{
		BaseDN:   c.config.BaseDN,
		Database: db,
		StartTLS: configs.NewStartTLSConfig(c.config.StartTLS()),
	}
	return file.Render()
}
