package hookenv_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
)

func envFrom(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

var _ = Describe("Environment", func() {
	It("Should derive the hook name from the dispatch path", func() {
		env, err := hookenv.NewEnvironment(envFrom(map[string]string{
			"JUJU_DISPATCH_PATH": "hooks/ldap-relation-changed",
			"JUJU_UNIT_NAME":     "glauth-k8s/0",
			"JUJU_MODEL_NAME":    "iam",
			"JUJU_RELATION":      "ldap",
			"JUJU_RELATION_ID":   "ldap:7",
			"JUJU_REMOTE_APP":    "hydra",
		}))
		Expect(err).NotTo(HaveOccurred())
		Expect(env.HookName).To(Equal("ldap-relation-changed"))
		Expect(env.AppName()).To(Equal("glauth-k8s"))

		rel, err := env.Relation()
		Expect(err).NotTo(HaveOccurred())
		Expect(*rel).To(Equal(hookenv.Relation{Name: "ldap", ID: 7}))
	})

	It("Should fall back to JUJU_HOOK_NAME", func() {
		env, err := hookenv.NewEnvironment(envFrom(map[string]string{
			"JUJU_HOOK_NAME": "install",
			"JUJU_UNIT_NAME": "glauth-k8s/1",
		}))
		Expect(err).NotTo(HaveOccurred())
		Expect(env.HookName).To(Equal("install"))

		rel, err := env.Relation()
		Expect(err).NotTo(HaveOccurred())
		Expect(rel).To(BeNil())
	})

	It("Should fail outside of a hook", func() {
		_, err := hookenv.NewEnvironment(envFrom(map[string]string{"JUJU_UNIT_NAME": "glauth-k8s/0"}))
		Expect(err).To(HaveOccurred())

		_, err = hookenv.NewEnvironment(envFrom(map[string]string{"JUJU_HOOK_NAME": "install"}))
		Expect(err).To(HaveOccurred())
	})

	Describe("ParseRelation", func() {
		It("Should round trip relation ids", func() {
			rel, err := hookenv.ParseRelation("pg-database:12")
			Expect(err).NotTo(HaveOccurred())
			Expect(rel.String()).To(Equal("pg-database:12"))
		})

		It("Should reject malformed ids", func() {
			for _, raw := range []string{"", "ldap", ":3", "ldap:x"} {
				_, err := hookenv.ParseRelation(raw)
				Expect(err).To(HaveOccurred(), raw)
			}
		})
	})
})
