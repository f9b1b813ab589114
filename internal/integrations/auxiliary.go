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

	v1 "github.com/guided-traffic/glauth-k8s-operator/api/v1"
	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
)

// AuxiliaryIntegration shares the GLAuth database with auxiliary charms
type AuxiliaryIntegration struct {
	hook *hookenv.Context
}

// NewAuxiliaryIntegration creates an AuxiliaryIntegration
func NewAuxiliaryIntegration(hook *hookenv.Context) *AuxiliaryIntegration {
	return &AuxiliaryIntegration{hook: hook}
}

// AuxiliaryData maps the database credentials onto the auxiliary interface
func (a *AuxiliaryIntegration) AuxiliaryData(db configs.DatabaseConfig) v1.AuxiliaryData {
	return v1.AuxiliaryData{
		Database: db.Database,
		Endpoint: db.Endpoint,
		Username: db.Username,
		Password: db.Password,
	}
}

// UpdateRelationsAppData publishes data on rel, or on every auxiliary relation when rel is nil
func (a *AuxiliaryIntegration) UpdateRelationsAppData(ctx context.Context, data v1.AuxiliaryData, rel *hookenv.Relation) error {
	return updateAppData(ctx, a.hook, AuxiliaryIntegrationName, rel, data.Databag())
}
