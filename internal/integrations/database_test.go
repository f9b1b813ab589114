package integrations

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv/hookenvtest"
)

var _ = Describe("DatabaseRequirer", func() {
	var (
		ctx      context.Context
		model    *hookenvtest.Model
		rel      hookenv.Relation
		requirer *DatabaseRequirer
	)

	BeforeEach(func() {
		ctx = context.Background()
		model = hookenvtest.NewModel(testUnit)
		model.Leader = true
		rel = model.AddRelation(DatabaseIntegrationName, 5, "postgresql-k8s", "postgresql-k8s/0")
		requirer = NewDatabaseRequirer(newHook(model, "pg-database-relation-joined"))
	})

	It("Should name the database after model and application", func() {
		Expect(requirer.Database()).To(Equal("iam_glauth-k8s"))
	})

	It("Should request a superuser database", func() {
		Expect(requirer.Request(ctx, rel)).To(Succeed())
		Expect(model.Databag(rel, "glauth-k8s")).To(Equal(map[string]string{
			"database":         "iam_glauth-k8s",
			"extra-user-roles": "SUPERUSER",
		}))
	})

	It("Should not be ready before the provider answered", func() {
		created, err := requirer.IsResourceCreated(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeFalse())
	})

	It("Should not be ready without a relation", func() {
		model.RemoveRelation(rel)
		created, err := requirer.IsResourceCreated(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeFalse())

		cfg, err := requirer.Config(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.IsEmpty()).To(BeTrue())
	})

	It("Should read plain credentials", func() {
		bag := model.Databag(rel, "postgresql-k8s")
		bag["username"] = "relation-5"
		bag["password"] = "pw"
		bag["endpoints"] = "postgresql-k8s-primary.iam.svc.cluster.local:5432"

		created, err := requirer.IsResourceCreated(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())

		cfg, err := requirer.Config(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(configs.DatabaseConfig{
			Endpoint: "postgresql-k8s-primary.iam.svc.cluster.local:5432",
			Database: "iam_glauth-k8s",
			Username: "relation-5",
			Password: "pw",
		}))
	})

	It("Should not be ready while the password is missing", func() {
		bag := model.Databag(rel, "postgresql-k8s")
		bag["username"] = "relation-5"
		bag["endpoints"] = "pg:5432"

		created, err := requirer.IsResourceCreated(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeFalse())
	})

	It("Should resolve credentials from a secret", func() {
		bag := model.Databag(rel, "postgresql-k8s")
		bag["endpoints"] = "pg:5432"
		bag["secret-user"] = "secret:cq0ab"
		model.Secrets["secret:cq0ab"] = map[string]string{"username": "relation-5", "password": "from-secret"}

		cfg, err := requirer.Config(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Username).To(Equal("relation-5"))
		Expect(cfg.Password).To(Equal("from-secret"))
	})

	It("Should fail when the secret is not readable", func() {
		bag := model.Databag(rel, "postgresql-k8s")
		bag["secret-user"] = "secret:missing"

		_, err := requirer.IsResourceCreated(ctx)
		Expect(err).To(MatchError(ContainSubstring("failed to read database credentials")))
	})

	It("Should ignore the relation while it breaks", func() {
		model.Databag(rel, "postgresql-k8s")["username"] = "relation-5"
		broken := NewDatabaseRequirer(newRelationHook(model, "pg-database-relation-broken", rel))

		found, err := broken.Relation(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeNil())
	})
})
