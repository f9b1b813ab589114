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

	v1 "github.com/guided-traffic/glauth-k8s-operator/api/v1"
	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
)

// DatabaseRequirer requests a Postgres database over postgresql_client
type DatabaseRequirer struct {
	hook           *hookenv.Context
	database       string
	extraUserRoles string
}

// NewDatabaseRequirer creates a requirer for the database <model>_<app>
func NewDatabaseRequirer(hook *hookenv.Context) *DatabaseRequirer {
	env := hook.Env()
	return &DatabaseRequirer{
		hook:           hook,
		database:       fmt.Sprintf("%s_%s", env.ModelName, env.AppName()),
		extraUserRoles: "SUPERUSER",
	}
}

// Database is the name of the requested database
func (d *DatabaseRequirer) Database() string {
	return d.database
}

// Request publishes the database request on rel
func (d *DatabaseRequirer) Request(ctx context.Context, rel hookenv.Relation) error {
	req := v1.DatabaseRequest{Database: d.database, ExtraUserRoles: d.extraUserRoles}
	if err := d.hook.RelationSet(ctx, rel, true, req.Databag()); err != nil {
		return fmt.Errorf("failed to request database %s: %w", d.database, err)
	}
	return nil
}

// Relation returns the live database relation, or nil
func (d *DatabaseRequirer) Relation(ctx context.Context) (*hookenv.Relation, error) {
	relations, err := d.hook.Relations(ctx, DatabaseIntegrationName)
	if err != nil {
		return nil, fmt.Errorf("failed to list database relations: %w", err)
	}
	if len(relations) == 0 {
		return nil, nil
	}
	return &relations[0], nil
}

// Response reads what the provider published, resolving credentials held
// in a secret. It returns nil without a relation.
func (d *DatabaseRequirer) Response(ctx context.Context) (*v1.DatabaseResponse, error) {
	rel, err := d.Relation(ctx)
	if err != nil || rel == nil {
		return nil, err
	}

	bag, err := remoteAppData(ctx, d.hook, *rel)
	if err != nil {
		return nil, err
	}
	resp := v1.DatabaseResponseFromDatabag(bag)

	if resp.SecretUser != "" {
		secret, err := d.hook.SecretGet(ctx, resp.SecretUser)
		if err != nil {
			return nil, fmt.Errorf("failed to read database credentials: %w", err)
		}
		resp.Username = secret["username"]
		resp.Password = secret["password"]
	}
	return &resp, nil
}

// IsResourceCreated reports whether the provider has created the database
// and published credentials for it
func (d *DatabaseRequirer) IsResourceCreated(ctx context.Context) (bool, error) {
	cfg, err := d.Config(ctx)
	if err != nil {
		return false, err
	}
	return !cfg.IsEmpty(), nil
}

// Config returns the database configuration; it is empty without a relation
func (d *DatabaseRequirer) Config(ctx context.Context) (configs.DatabaseConfig, error) {
	resp, err := d.Response(ctx)
	if err != nil || resp == nil {
		return configs.DatabaseConfig{}, err
	}
	return configs.DatabaseConfig{
		Endpoint: resp.Endpoints,
		Database: d.database,
		Username: resp.Username,
		Password: resp.Password,
	}, nil
}
