package v1

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Validation Functions", func() {

	Describe("isValidDN", func() {
		It("Should accept simple base DNs", func() {
			Expect(isValidDN("dc=glauth,dc=com")).To(BeTrue())
			Expect(isValidDN("dc=example,dc=org")).To(BeTrue())
			Expect(isValidDN("ou=people,dc=example,dc=org")).To(BeTrue())
		})

		It("Should accept escaped values", func() {
			Expect(isValidDN(`o=Acme\, Inc,dc=example,dc=com`)).To(BeTrue())
		})

		It("Should reject malformed DNs", func() {
			Expect(isValidDN("")).To(BeFalse())
			Expect(isValidDN("   ")).To(BeFalse())
			Expect(isValidDN("glauth")).To(BeFalse())
		})
	})

	Describe("isValidUsername", func() {
		It("Should accept juju application names", func() {
			Expect(isValidUsername("hydra")).To(BeTrue())
			Expect(isValidUsername("kratos-external-idp")).To(BeTrue())
			Expect(isValidUsername("app_1.two")).To(BeTrue())
		})

		It("Should reject names that would break a DN", func() {
			Expect(isValidUsername("")).To(BeFalse())
			Expect(isValidUsername("cn=admin")).To(BeFalse())
			Expect(isValidUsername("a,b")).To(BeFalse())
			Expect(isValidUsername("with space")).To(BeFalse())
		})
	})

	Describe("isValidGroupName", func() {
		It("Should accept model names", func() {
			Expect(isValidGroupName("iam")).To(BeTrue())
			Expect(isValidGroupName("test-model-1")).To(BeTrue())
		})

		It("Should reject invalid group names", func() {
			Expect(isValidGroupName("")).To(BeFalse())
			Expect(isValidGroupName("group+admins")).To(BeFalse())
		})
	})

	Describe("CharmConfig Validate", func() {
		It("Should accept the defaults", func() {
			cfg := &CharmConfig{}
			cfg.SetDefaults()
			Expect(cfg.Validate()).To(BeEmpty())
		})

		It("Should reject an invalid base DN", func() {
			cfg := &CharmConfig{BaseDN: "not a dn", Hostname: "ldap.example.com"}
			errs := cfg.Validate()
			Expect(errs).To(HaveLen(1))
			Expect(errs[0].Field).To(Equal("base_dn"))
		})

		It("Should reject a hostname that is not a DNS subdomain", func() {
			cfg := &CharmConfig{BaseDN: "dc=example,dc=com", Hostname: "LDAP_Host"}
			errs := cfg.Validate()
			Expect(errs).NotTo(BeEmpty())
			Expect(errs[0].Field).To(Equal("hostname"))
		})

		It("Should report every missing option", func() {
			cfg := &CharmConfig{}
			Expect(cfg.Validate()).To(HaveLen(2))
		})
	})

	Describe("LdapRequirerData Validate", func() {
		It("Should accept application and model names", func() {
			data := &LdapRequirerData{User: "hydra", Group: "iam"}
			Expect(data.Validate()).To(BeEmpty())
		})

		It("Should reject DN metacharacters", func() {
			data := &LdapRequirerData{User: "hydra,ou=x", Group: "iam"}
			errs := data.Validate()
			Expect(errs).To(HaveLen(1))
			Expect(errs[0].Field).To(Equal("user"))
		})
	})
})
