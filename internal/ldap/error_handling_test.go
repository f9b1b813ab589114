package ldap

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LDAP Client Error Handling", func() {

	Context("Client Creation Edge Cases", func() {
		It("Should reject a malformed URL", func() {
			client, err := NewClient(&Config{URL: "ldap://[::1"})
			Expect(err).To(HaveOccurred())
			Expect(client).To(BeNil())
		})

		It("Should fail when nothing listens on the port", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			addr := listener.Addr().(*net.TCPAddr)
			Expect(listener.Close()).To(Succeed())

			client, err := NewClient(&Config{
				URL:     URL("127.0.0.1", addr.Port),
				Timeout: time.Second,
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to connect to LDAP server"))
			Expect(client).To(BeNil())
		})

		It("Should surface probe failures", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			addr := listener.Addr().(*net.TCPAddr)
			Expect(listener.Close()).To(Succeed())

			Expect(Probe(&Config{URL: URL("127.0.0.1", addr.Port), Timeout: time.Second})).NotTo(Succeed())
		})
	})

	Context("Client without a connection", func() {
		It("Should refuse to test the connection", func() {
			client := &Client{config: &Config{}}
			Expect(client.TestConnection()).To(MatchError(ContainSubstring("no active connection")))
		})

		It("Should close without error", func() {
			client := &Client{config: &Config{}}
			Expect(client.Close()).To(Succeed())
		})
	})
})
