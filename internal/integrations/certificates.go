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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/spf13/afero"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/guided-traffic/glauth-k8s-operator/api/v1"
	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
)

const (
	privateKeyStateKey = "private-key"
	csrStateKey        = "csr"

	updateCACertificatesAttempts = 3
	updateCACertificatesDelay    = 3 * time.Second
)

// CertificatesError is returned when the TLS material cannot be installed
type CertificatesError struct {
	Message string
	Err     error
}

func (e *CertificatesError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *CertificatesError) Unwrap() error {
	return e.Err
}

// Workload is where the certificates are installed for GLAuth
type Workload interface {
	Push(p string, content []byte, perm fs.FileMode) error
	RemovePath(p string) error
}

// CertificateData is the TLS material issued for this unit
type CertificateData struct {
	CACert     string
	CAChain    []string
	Cert       string
	PrivateKey string
}

// Ready reports whether every piece of the material is present
func (d *CertificateData) Ready() bool {
	return d != nil && d.CACert != "" && len(d.CAChain) > 0 && d.Cert != "" && d.PrivateKey != ""
}

// CertificatesIntegration requests a server certificate over tls-certificates
// and installs it for GLAuth
type CertificatesIntegration struct {
	hook      *hookenv.Context
	config    *v1.CharmConfig
	fs        afero.Fs
	runner    hookenv.Runner
	workload  Workload
	clock     clock.Clock
	retryWait time.Duration
}

// NewCertificatesIntegration creates a CertificatesIntegration. fs is the
// charm container filesystem and runner executes update-ca-certificates in it.
func NewCertificatesIntegration(hook *hookenv.Context, config *v1.CharmConfig, filesystem afero.Fs, runner hookenv.Runner, workload Workload) *CertificatesIntegration {
	return &CertificatesIntegration{
		hook:      hook,
		config:    config,
		fs:        filesystem,
		runner:    runner,
		workload:  workload,
		clock:     clock.WallClock,
		retryWait: updateCACertificatesDelay,
	}
}

// WithRetryDelay overrides the delay between update-ca-certificates attempts
func (c *CertificatesIntegration) WithRetryDelay(d time.Duration) *CertificatesIntegration {
	c.retryWait = d
	return c
}

// SANs are the DNS names the certificate must cover
func (c *CertificatesIntegration) SANs() []string {
	env := c.hook.Env()
	return []string{
		c.config.Hostname,
		fmt.Sprintf("%s.%s.svc.cluster.local", env.AppName(), env.ModelName),
	}
}

// Relation returns the live certificates relation, or nil
func (c *CertificatesIntegration) Relation(ctx context.Context) (*hookenv.Relation, error) {
	relations, err := c.hook.Relations(ctx, CertificatesIntegrationName)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates relations: %w", err)
	}
	if len(relations) == 0 {
		return nil, nil
	}
	return &relations[0], nil
}

// EnsureCSR returns the current CSR, creating the private key and CSR on
// first use and regenerating the CSR when the subject or SANs changed
func (c *CertificatesIntegration) EnsureCSR(ctx context.Context) (string, bool, error) {
	state, err := c.hook.StateGet(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to read unit state: %w", err)
	}

	keyPEM := state[privateKeyStateKey]
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		key, keyPEM, err = generatePrivateKey()
		if err != nil {
			return "", false, err
		}
		if err := c.hook.StateSet(ctx, map[string]string{privateKeyStateKey: keyPEM}); err != nil {
			return "", false, fmt.Errorf("failed to store private key: %w", err)
		}
		log.FromContext(ctx).Info("Generated private key")
	}

	csrPEM := state[csrStateKey]
	if c.csrMatches(csrPEM, key) {
		return csrPEM, false, nil
	}

	csrPEM, err = c.generateCSR(key)
	if err != nil {
		return "", false, err
	}
	if err := c.hook.StateSet(ctx, map[string]string{csrStateKey: csrPEM}); err != nil {
		return "", false, fmt.Errorf("failed to store certificate signing request: %w", err)
	}
	log.FromContext(ctx).Info("Generated certificate signing request", "sans", c.SANs())
	return csrPEM, true, nil
}

func (c *CertificatesIntegration) csrMatches(csrPEM string, key *ecdsa.PrivateKey) bool {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil {
		return false
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return false
	}
	pub, ok := csr.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return false
	}
	got := slices.Clone(csr.DNSNames)
	want := c.SANs()
	sort.Strings(got)
	sort.Strings(want)
	return csr.Subject.CommonName == c.config.Hostname && slices.Equal(got, want)
}

func (c *CertificatesIntegration) generateCSR(key *ecdsa.PrivateKey) (string, error) {
	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: c.config.Hostname},
		DNSNames: c.SANs(),
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return "", fmt.Errorf("failed to create certificate signing request: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), nil
}

func generatePrivateKey() (*ecdsa.PrivateKey, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate private key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode private key: %w", err)
	}
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

func parsePrivateKey(keyPEM string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, errors.New("no private key")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

// RequestCertificate publishes the current CSR on rel, or on the live
// certificates relation when rel is nil
func (c *CertificatesIntegration) RequestCertificate(ctx context.Context, rel *hookenv.Relation) error {
	if rel == nil {
		var err error
		if rel, err = c.Relation(ctx); err != nil || rel == nil {
			return err
		}
	}

	csr, _, err := c.EnsureCSR(ctx)
	if err != nil {
		return err
	}
	bag, err := v1.CertificateSigningRequestsDatabag([]v1.CertificateSigningRequest{{CertificateSigningRequest: csr}})
	if err != nil {
		return err
	}
	if err := c.hook.RelationSet(ctx, *rel, false, bag); err != nil {
		return fmt.Errorf("failed to send certificate signing request: %w", err)
	}
	return nil
}

// CertData returns the material issued for the current CSR. It is empty
// until the provider has answered.
func (c *CertificatesIntegration) CertData(ctx context.Context) (*CertificateData, error) {
	rel, err := c.Relation(ctx)
	if err != nil || rel == nil {
		return &CertificateData{}, err
	}

	state, err := c.hook.StateGet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read unit state: %w", err)
	}
	csr := state[csrStateKey]
	if csr == "" {
		return &CertificateData{}, nil
	}

	bag, err := remoteAppData(ctx, c.hook, *rel)
	if err != nil {
		return nil, err
	}
	certs, err := v1.ProviderCertificatesFromDatabag(bag)
	if err != nil {
		return nil, err
	}

	for _, cert := range certs {
		if cert.Revoked || normalizePEM(cert.CertificateSigningRequest) != normalizePEM(csr) {
			continue
		}
		return &CertificateData{
			CACert:     cert.CA,
			CAChain:    cert.Chain,
			Cert:       cert.Certificate,
			PrivateKey: state[privateKeyStateKey],
		}, nil
	}
	return &CertificateData{}, nil
}

func normalizePEM(s string) string {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return s
	}
	return string(pem.EncodeToMemory(block))
}

// CertsReady reports whether the issued material is complete
func (c *CertificatesIntegration) CertsReady(ctx context.Context) (bool, error) {
	data, err := c.CertData(ctx)
	if err != nil {
		return false, err
	}
	return data.Ready(), nil
}

// UpdateCertificates installs the issued material for GLAuth, or removes it
// from the workload when there is none
func (c *CertificatesIntegration) UpdateCertificates(ctx context.Context) error {
	logger := log.FromContext(ctx)

	data, err := c.CertData(ctx)
	if err != nil {
		return err
	}
	if !data.Ready() {
		logger.Info("The certificates data is not ready")
		return c.removeCertificates()
	}

	if err := c.prepareCertificates(ctx, data); err != nil {
		return err
	}
	return c.pushCertificates(data)
}

func (c *CertificatesIntegration) prepareCertificates(ctx context.Context, data *CertificateData) error {
	files := map[string]string{
		configs.CACertPath:      data.CACert,
		configs.PrivateKeyPath:  data.PrivateKey,
		configs.CertificatePath: data.Cert,
	}
	for p, content := range files {
		if err := c.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
			return &CertificatesError{Message: "failed to prepare " + path.Dir(p), Err: err}
		}
		if err := afero.WriteFile(c.fs, p, []byte(content), 0o600); err != nil {
			return &CertificatesError{Message: "failed to write " + p, Err: err}
		}
	}

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			_, err := c.runner.Run(ctx, nil, "update-ca-certificates", "--fresh")
			return err
		},
		NotifyFunc: func(err error, attempt int) {
			log.FromContext(ctx).Info("update-ca-certificates failed", "attempt", attempt, "error", err.Error())
		},
		Attempts: updateCACertificatesAttempts,
		Delay:    c.retryWait,
		Clock:    c.clock,
	})
	if err != nil {
		return &CertificatesError{Message: "Update the TLS certificates failed.", Err: retry.LastError(err)}
	}
	return nil
}

func (c *CertificatesIntegration) pushCertificates(data *CertificateData) error {
	bundle, err := afero.ReadFile(c.fs, configs.CABundlePath)
	if err != nil {
		return &CertificatesError{Message: "failed to read " + configs.CABundlePath, Err: err}
	}

	files := []struct {
		path    string
		content []byte
		perm    fs.FileMode
	}{
		{configs.CABundlePath, bundle, 0o644},
		{configs.CACertPath, []byte(data.CACert), 0o644},
		{configs.PrivateKeyPath, []byte(data.PrivateKey), 0o600},
		{configs.CertificatePath, []byte(data.Cert), 0o644},
	}
	for _, f := range files {
		if err := c.workload.Push(f.path, f.content, f.perm); err != nil {
			return fmt.Errorf("failed to push %s: %w", f.path, err)
		}
	}
	return nil
}

func (c *CertificatesIntegration) removeCertificates() error {
	for _, p := range []string{configs.CABundlePath, configs.CACertPath, configs.PrivateKeyPath, configs.CertificatePath} {
		if err := c.workload.RemovePath(p); err != nil {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
