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

// CertificatesTransferIntegration shares the GLAuth CA and certificate over
// certificate_transfer
type CertificatesTransferIntegration struct {
	hook *hookenv.Context
}

// NewCertificatesTransferIntegration creates a CertificatesTransferIntegration
func NewCertificatesTransferIntegration(hook *hookenv.Context) *CertificatesTransferIntegration {
	return &CertificatesTransferIntegration{hook: hook}
}

// TransferCertificates sets the certificates on rel, or on every transfer
// relation when rel is nil. Incomplete data clears what was sent before.
func (t *CertificatesTransferIntegration) TransferCertificates(ctx context.Context, data *CertificateData, rel *hookenv.Relation) error {
	relations, err := targetRelations(ctx, t.hook, CertificatesTransferIntegrationName, rel)
	if err != nil {
		return err
	}
	if len(relations) == 0 {
		return nil
	}

	bag := v1.ClearCertificateTransferDatabag()
	if data != nil && data.CACert != "" && len(data.CAChain) > 0 && data.Cert != "" {
		transfer := v1.CertificateTransferData{Certificate: data.Cert, CA: data.CACert, Chain: data.CAChain}
		if bag, err = transfer.Databag(); err != nil {
			return err
		}
	}

	for _, r := range relations {
		if err := t.hook.RelationSet(ctx, r, false, bag); err != nil {
			return fmt.Errorf("failed to transfer certificates on %s: %w", r, err)
		}
	}
	return nil
}
