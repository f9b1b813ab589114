package integrations

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/guided-traffic/glauth-k8s-operator/api/v1"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv/hookenvtest"
)

var _ = Describe("MetricsEndpoint", func() {
	It("Should publish the scrape job and unit address", func() {
		ctx := context.Background()
		model := hookenvtest.NewModel(testUnit)
		model.Leader = true
		rel := model.AddRelation(MetricsIntegrationName, 2, "prometheus", "prometheus/0")

		Expect(NewMetricsEndpoint(newHook(model, "metrics-endpoint-relation-joined")).Publish(ctx, true, nil)).To(Succeed())

		var jobs []v1.ScrapeJob
		Expect(json.Unmarshal([]byte(model.Databag(rel, "glauth-k8s")["scrape_jobs"]), &jobs)).To(Succeed())
		Expect(jobs).To(Equal([]v1.ScrapeJob{{
			MetricsPath:   "/metrics",
			StaticConfigs: []v1.StaticConfig{{Targets: []string{"*:5555"}}},
		}}))

		var metadata v1.ScrapeMetadata
		Expect(json.Unmarshal([]byte(model.Databag(rel, "glauth-k8s")["scrape_metadata"]), &metadata)).To(Succeed())
		Expect(metadata.Application).To(Equal("glauth-k8s"))
		Expect(metadata.Model).To(Equal("iam"))

		unit := model.Databag(rel, testUnit)
		Expect(unit).To(HaveKeyWithValue("prometheus_scrape_unit_name", "glauth-k8s/0"))
		Expect(unit).To(HaveKeyWithValue("prometheus_scrape_unit_address", "glauth-k8s-0.glauth-k8s-endpoints.iam.svc.cluster.local"))
	})

	It("Should only write unit data on followers", func() {
		ctx := context.Background()
		model := hookenvtest.NewModel("glauth-k8s/1")
		rel := model.AddRelation(MetricsIntegrationName, 2, "prometheus", "prometheus/0")

		Expect(NewMetricsEndpoint(newHook(model, "metrics-endpoint-relation-joined")).Publish(ctx, false, &rel)).To(Succeed())
		Expect(model.Databag(rel, "glauth-k8s")).To(BeEmpty())
		Expect(model.Databag(rel, "glauth-k8s/1")).NotTo(BeEmpty())
	})
})

var _ = Describe("PeerStore", func() {
	It("Should fail before the peer relation exists", func() {
		model := hookenvtest.NewModel(testUnit)
		model.Leader = true
		store := NewPeerStore(newHook(model, "ldap-relation-changed"))

		_, err := store.BindPassword(context.Background(), "hydra")
		Expect(err).To(MatchError(ErrPeerRelationNotReady))
	})

	It("Should generate a password once", func() {
		ctx := context.Background()
		model := hookenvtest.NewModel(testUnit)
		model.Leader = true
		model.AddRelation(PeerIntegrationName, 1, "glauth-k8s")
		store := NewPeerStore(newHook(model, "ldap-relation-changed"))

		first, err := store.BindPassword(ctx, "hydra")
		Expect(err).NotTo(HaveOccurred())
		second, err := store.BindPassword(ctx, "hydra")
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))

		other, err := store.BindPassword(ctx, "kratos")
		Expect(err).NotTo(HaveOccurred())
		Expect(other).NotTo(Equal(first))
	})
})
