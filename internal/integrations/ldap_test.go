package integrations

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/guided-traffic/glauth-k8s-operator/api/v1"
	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/database"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv/hookenvtest"
)

var _ = Describe("LdapIntegration", func() {
	var (
		ctx      context.Context
		model    *hookenvtest.Model
		config   *v1.CharmConfig
		ldapRel  hookenv.Relation
		peerRel  hookenv.Relation
		accounts []string
		db       configs.DatabaseConfig
	)

	fakeAccount := func(_ context.Context, dsn, user, group, password string) (*database.BindAccount, error) {
		accounts = append(accounts, dsn+"|"+user+"|"+group+"|"+password)
		return &database.BindAccount{User: user, Group: group, UID: 5001, GID: 5501, Password: password}, nil
	}

	BeforeEach(func() {
		ctx = context.Background()
		accounts = nil
		model = hookenvtest.NewModel(testUnit)
		model.Leader = true
		ldapRel = model.AddRelation(LdapIntegrationName, 3, "hydra", "hydra/0")
		peerRel = model.AddRelation(PeerIntegrationName, 1, "glauth-k8s")
		config = &v1.CharmConfig{}
		config.SetDefaults()
		db = configs.DatabaseConfig{Endpoint: "pg:5432", Database: "iam_glauth-k8s", Username: "u", Password: "p"}
	})

	It("Should advertise the configured hostname and base DN", func() {
		integration := NewLdapIntegration(newHook(model, "config-changed"), config, nil, fakeAccount)
		Expect(integration.URL()).To(Equal("ldap://ldap.glauth.com:3893"))
		Expect(integration.ProviderBaseData()).To(Equal(v1.LdapProviderBaseData{
			URL:      "ldap://ldap.glauth.com:3893",
			BaseDN:   "dc=glauth,dc=com",
			StartTLS: true,
		}))
		Expect(integration.ProviderData()).To(BeNil())
	})

	It("Should return no request until the requirer published one", func() {
		integration := NewLdapIntegration(newHook(model, "ldap-relation-changed"), config, nil, fakeAccount)
		data, err := integration.RequirerData(ctx, ldapRel)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(BeNil())
	})

	It("Should reject invalid requests", func() {
		model.Databag(ldapRel, "hydra")["user"] = "bad user"
		model.Databag(ldapRel, "hydra")["group"] = "iam"

		integration := NewLdapIntegration(newHook(model, "ldap-relation-changed"), config, nil, fakeAccount)
		_, err := integration.RequirerData(ctx, ldapRel)
		Expect(err).To(MatchError(ContainSubstring("invalid ldap request")))
	})

	It("Should provision a bind account and publish provider data", func() {
		model.Databag(ldapRel, "hydra")["user"] = "hydra"
		model.Databag(ldapRel, "hydra")["group"] = "iam"

		hook := newHook(model, "ldap-relation-changed")
		integration := NewLdapIntegration(hook, config, NewPeerStore(hook), fakeAccount)

		req, err := integration.RequirerData(ctx, ldapRel)
		Expect(err).NotTo(HaveOccurred())
		Expect(req).To(Equal(&v1.LdapRequirerData{User: "hydra", Group: "iam"}))

		Expect(integration.LoadBindAccount(ctx, db, req.User, req.Group)).To(Succeed())
		password := model.Databag(peerRel, "glauth-k8s")["bind-password-hydra"]
		Expect(password).To(HaveLen(64))
		Expect(accounts).To(Equal([]string{"postgres://u:p@pg:5432/iam_glauth-k8s|hydra|iam|" + password}))

		data := integration.ProviderData()
		Expect(data).NotTo(BeNil())
		Expect(data.BindDN).To(Equal("cn=hydra,ou=iam,dc=glauth,dc=com"))
		Expect(data.AuthMethod).To(Equal("simple"))

		Expect(integration.UpdateRelationsAppData(ctx, data.Databag(), &ldapRel)).To(Succeed())
		bag := model.Databag(ldapRel, "glauth-k8s")
		Expect(bag).To(HaveKeyWithValue("bind_dn", "cn=hydra,ou=iam,dc=glauth,dc=com"))
		Expect(bag).To(HaveKeyWithValue("bind_password_secret", password))
		Expect(bag).To(HaveKeyWithValue("starttls", "True"))
	})

	It("Should reuse the stored bind password", func() {
		model.Databag(peerRel, "glauth-k8s")["bind-password-hydra"] = "stored"
		hook := newHook(model, "ldap-relation-changed")
		integration := NewLdapIntegration(hook, config, NewPeerStore(hook), fakeAccount)

		Expect(integration.LoadBindAccount(ctx, db, "hydra", "iam")).To(Succeed())
		Expect(integration.ProviderData().BindPasswordSecret).To(Equal("stored"))
	})

	It("Should wrap provisioning failures", func() {
		hook := newHook(model, "ldap-relation-changed")
		failing := func(context.Context, string, string, string, string) (*database.BindAccount, error) {
			return nil, errors.New("permission denied")
		}
		integration := NewLdapIntegration(hook, config, NewPeerStore(hook), failing)

		err := integration.LoadBindAccount(ctx, db, "hydra", "iam")
		Expect(err).To(MatchError(ContainSubstring("failed to create bind account hydra")))
		Expect(integration.ProviderData()).To(BeNil())
	})

	It("Should drop false booleans when refreshing base data", func() {
		disabled := false
		config.StartTLSEnabled = &disabled
		other := model.AddRelation(LdapIntegrationName, 9, "kratos", "kratos/0")
		model.Databag(ldapRel, "glauth-k8s")["starttls"] = "True"

		integration := NewLdapIntegration(newHook(model, "config-changed"), config, nil, fakeAccount)
		Expect(integration.UpdateRelationsAppData(ctx, integration.ProviderBaseData().Databag(), nil)).To(Succeed())

		Expect(model.Databag(ldapRel, "glauth-k8s")).NotTo(HaveKey("starttls"))
		Expect(model.Databag(other, "glauth-k8s")).To(HaveKeyWithValue("url", "ldap://ldap.glauth.com:3893"))
	})

	It("Should skip the broken relation", func() {
		other := model.AddRelation(LdapIntegrationName, 9, "kratos", "kratos/0")
		integration := NewLdapIntegration(newRelationHook(model, "ldap-relation-broken", ldapRel), config, nil, fakeAccount)

		Expect(integration.UpdateRelationsAppData(ctx, integration.ProviderBaseData().Databag(), nil)).To(Succeed())
		Expect(model.Databag(ldapRel, "glauth-k8s")).To(BeEmpty())
		Expect(model.Databag(other, "glauth-k8s")).NotTo(BeEmpty())
	})
})

var _ = Describe("AuxiliaryIntegration", func() {
	It("Should share the database credentials", func() {
		ctx := context.Background()
		model := hookenvtest.NewModel(testUnit)
		model.Leader = true
		rel := model.AddRelation(AuxiliaryIntegrationName, 4, "glauth-utils")

		aux := NewAuxiliaryIntegration(newHook(model, "pg-database-relation-changed"))
		data := aux.AuxiliaryData(configs.DatabaseConfig{Endpoint: "pg:5432", Database: "d", Username: "u", Password: "p"})
		Expect(aux.UpdateRelationsAppData(ctx, data, nil)).To(Succeed())

		Expect(model.Databag(rel, "glauth-k8s")).To(Equal(map[string]string{
			"database": "d",
			"endpoint": "pg:5432",
			"username": "u",
			"password": "p",
		}))
	})
})
