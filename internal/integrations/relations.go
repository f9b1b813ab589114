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
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
)

// Integration endpoint names from metadata.yaml
const (
	LdapIntegrationName                 = "ldap"
	AuxiliaryIntegrationName            = "glauth-auxiliary"
	CertificatesTransferIntegrationName = "send-ca-cert"
	DatabaseIntegrationName             = "pg-database"
	CertificatesIntegrationName         = "certificates"
	MetricsIntegrationName              = "metrics-endpoint"
	PeerIntegrationName                 = "glauth-peers"
)

// targetRelations returns rel when set, otherwise every live relation of endpoint
func targetRelations(ctx context.Context, hook *hookenv.Context, endpoint string, rel *hookenv.Relation) ([]hookenv.Relation, error) {
	if rel != nil {
		return []hookenv.Relation{*rel}, nil
	}
	relations, err := hook.Relations(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s relations: %w", endpoint, err)
	}
	return relations, nil
}

// updateAppData writes bag into the local application databag of rel, or
// of every relation of endpoint when rel is nil
func updateAppData(ctx context.Context, hook *hookenv.Context, endpoint string, rel *hookenv.Relation, bag v1.Databag) error {
	relations, err := targetRelations(ctx, hook, endpoint, rel)
	if err != nil {
		return err
	}
	for _, r := range relations {
		if err := hook.RelationSet(ctx, r, true, bag); err != nil {
			return fmt.Errorf("failed to update %s application data: %w", r, err)
		}
	}
	return nil
}

// remoteAppData reads the application databag of the remote side of rel
func remoteAppData(ctx context.Context, hook *hookenv.Context, rel hookenv.Relation) (v1.Databag, error) {
	app, err := hook.RelationRemoteApp(ctx, rel)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve remote application of %s: %w", rel, err)
	}
	if app == "" {
		return v1.Databag{}, nil
	}
	bag, err := hook.RelationGet(ctx, rel, app, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s data of %s: %w", app, rel, err)
	}
	return bag, nil
}
