package integrations

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io/fs"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	v1 "github.com/guided-traffic/glauth-k8s-operator/api/v1"
	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv/hookenvtest"
)

var _ = Describe("CertificatesIntegration", func() {
	var (
		ctx      context.Context
		model    *hookenvtest.Model
		config   *v1.CharmConfig
		localFS  afero.Fs
		workload *fakeWorkload
		rel      hookenv.Relation
		certs    *CertificatesIntegration
	)

	newIntegration := func() *CertificatesIntegration {
		return NewCertificatesIntegration(newHook(model, "certificates-relation-changed"), config, localFS, model, workload).
			WithRetryDelay(time.Millisecond)
	}

	issue := func(csr string) {
		raw, err := json.Marshal([]v1.ProviderCertificate{{
			Certificate:               "SERVER CERT",
			CertificateSigningRequest: csr,
			CA:                        "CA CERT",
			Chain:                     []string{"SERVER CERT", "CA CERT"},
		}})
		Expect(err).NotTo(HaveOccurred())
		model.Databag(rel, "self-signed-certificates")["certificates"] = string(raw)
	}

	BeforeEach(func() {
		ctx = context.Background()
		model = hookenvtest.NewModel(testUnit)
		rel = model.AddRelation(CertificatesIntegrationName, 6, "self-signed-certificates", "self-signed-certificates/0")
		config = &v1.CharmConfig{}
		config.SetDefaults()
		localFS = afero.NewMemMapFs()
		Expect(afero.WriteFile(localFS, configs.CABundlePath, []byte("BUNDLE"), 0o644)).To(Succeed())
		workload = newFakeWorkload()
		certs = newIntegration()
	})

	It("Should cover the hostname and the cluster service name", func() {
		Expect(certs.SANs()).To(Equal([]string{"ldap.glauth.com", "glauth-k8s.iam.svc.cluster.local"}))
	})

	It("Should generate and keep a key and CSR", func() {
		csr, changed, err := certs.EnsureCSR(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeTrue())
		Expect(model.State).To(HaveKey("private-key"))
		Expect(model.State).To(HaveKeyWithValue("csr", csr))

		block, _ := pem.Decode([]byte(csr))
		Expect(block).NotTo(BeNil())
		req, err := x509.ParseCertificateRequest(block.Bytes)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Subject.CommonName).To(Equal("ldap.glauth.com"))
		Expect(req.DNSNames).To(ConsistOf("ldap.glauth.com", "glauth-k8s.iam.svc.cluster.local"))

		again, changed, err := certs.EnsureCSR(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeFalse())
		Expect(again).To(Equal(csr))
	})

	It("Should regenerate the CSR when the hostname changes", func() {
		first, _, err := certs.EnsureCSR(ctx)
		Expect(err).NotTo(HaveOccurred())
		key := model.State["private-key"]

		config.Hostname = "ldap.example.com"
		second, changed, err := newIntegration().EnsureCSR(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeTrue())
		Expect(second).NotTo(Equal(first))
		Expect(model.State["private-key"]).To(Equal(key))
	})

	It("Should send the CSR on the unit databag", func() {
		Expect(certs.RequestCertificate(ctx, nil)).To(Succeed())

		var sent []v1.CertificateSigningRequest
		Expect(json.Unmarshal([]byte(model.Databag(rel, testUnit)["certificate_signing_requests"]), &sent)).To(Succeed())
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].CertificateSigningRequest).To(Equal(model.State["csr"]))
		Expect(sent[0].CA).To(BeFalse())
	})

	It("Should not be ready before a certificate was issued", func() {
		_, _, err := certs.EnsureCSR(ctx)
		Expect(err).NotTo(HaveOccurred())

		ready, err := certs.CertsReady(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ready).To(BeFalse())
	})

	It("Should ignore certificates issued for another CSR", func() {
		_, _, err := certs.EnsureCSR(ctx)
		Expect(err).NotTo(HaveOccurred())
		issue("-----BEGIN CERTIFICATE REQUEST-----\nb3RoZXI=\n-----END CERTIFICATE REQUEST-----\n")

		ready, err := certs.CertsReady(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ready).To(BeFalse())
	})

	It("Should install and push issued certificates", func() {
		csr, _, err := certs.EnsureCSR(ctx)
		Expect(err).NotTo(HaveOccurred())
		issue(csr)

		data, err := certs.CertData(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(data.Ready()).To(BeTrue())

		Expect(certs.UpdateCertificates(ctx)).To(Succeed())
		Expect(model.Commands).To(Equal([]string{"update-ca-certificates --fresh"}))

		local, err := afero.ReadFile(localFS, configs.CACertPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(local)).To(Equal("CA CERT"))

		Expect(workload.files).To(HaveKeyWithValue(configs.CABundlePath, "BUNDLE"))
		Expect(workload.files).To(HaveKeyWithValue(configs.CACertPath, "CA CERT"))
		Expect(workload.files).To(HaveKeyWithValue(configs.CertificatePath, "SERVER CERT"))
		Expect(workload.files).To(HaveKeyWithValue(configs.PrivateKeyPath, model.State["private-key"]))
		Expect(workload.modes).To(HaveKeyWithValue(configs.PrivateKeyPath, fs.FileMode(0o600)))
		Expect(workload.modes).To(HaveKeyWithValue(configs.CertificatePath, fs.FileMode(0o644)))
	})

	It("Should retry update-ca-certificates", func() {
		csr, _, err := certs.EnsureCSR(ctx)
		Expect(err).NotTo(HaveOccurred())
		issue(csr)
		model.Failures["update-ca-certificates --fresh"] = 2

		Expect(certs.UpdateCertificates(ctx)).To(Succeed())
		Expect(model.Commands).To(HaveLen(3))
	})

	It("Should give up after three attempts", func() {
		csr, _, err := certs.EnsureCSR(ctx)
		Expect(err).NotTo(HaveOccurred())
		issue(csr)
		model.Failures["update-ca-certificates --fresh"] = 5

		err = certs.UpdateCertificates(ctx)
		var certErr *CertificatesError
		Expect(errors.As(err, &certErr)).To(BeTrue())
		Expect(model.Commands).To(HaveLen(3))
		Expect(workload.files).To(BeEmpty())
	})

	It("Should remove certificates when none were issued", func() {
		workload.files[configs.CertificatePath] = "OLD"
		workload.files[configs.PrivateKeyPath] = "OLD"

		Expect(certs.UpdateCertificates(ctx)).To(Succeed())
		Expect(workload.files).To(BeEmpty())
	})

	It("Should remove certificates when the relation breaks", func() {
		csr, _, err := certs.EnsureCSR(ctx)
		Expect(err).NotTo(HaveOccurred())
		issue(csr)
		workload.files[configs.CertificatePath] = "OLD"

		broken := NewCertificatesIntegration(newRelationHook(model, "certificates-relation-broken", rel), config, localFS, model, workload)
		Expect(broken.UpdateCertificates(ctx)).To(Succeed())
		Expect(workload.files).To(BeEmpty())
	})
})

var _ = Describe("CertificatesTransferIntegration", func() {
	var (
		ctx   context.Context
		model *hookenvtest.Model
		rel   hookenv.Relation
	)

	BeforeEach(func() {
		ctx = context.Background()
		model = hookenvtest.NewModel(testUnit)
		rel = model.AddRelation(CertificatesTransferIntegrationName, 8, "hydra", "hydra/0")
	})

	It("Should transfer complete certificate data", func() {
		transfer := NewCertificatesTransferIntegration(newHook(model, "certificates-relation-changed"))
		data := &CertificateData{CACert: "CA", CAChain: []string{"CERT", "CA"}, Cert: "CERT", PrivateKey: "KEY"}

		Expect(transfer.TransferCertificates(ctx, data, nil)).To(Succeed())
		bag := model.Databag(rel, testUnit)
		Expect(bag).To(HaveKeyWithValue("certificate", "CERT"))
		Expect(bag).To(HaveKeyWithValue("ca", "CA"))
		Expect(bag).To(HaveKeyWithValue("chain", `["CERT","CA"]`))
		Expect(bag).NotTo(HaveKey("private-key"))
	})

	It("Should clear the data when certificates are incomplete", func() {
		model.Databag(rel, testUnit)["certificate"] = "CERT"
		transfer := NewCertificatesTransferIntegration(newHook(model, "certificates-relation-broken"))

		Expect(transfer.TransferCertificates(ctx, &CertificateData{}, &rel)).To(Succeed())
		Expect(model.Databag(rel, testUnit)).To(BeEmpty())
	})
})
