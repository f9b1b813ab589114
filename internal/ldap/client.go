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

package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/go-ldap/ldap/v3"
)

const defaultTimeout = 30 * time.Second

// Config describes how to reach a GLAuth LDAP listener
type Config struct {
	// URL is the ldap:// URL of the listener
	URL string
	// BaseDN is used as the search base once bound
	BaseDN string
	// BindDN and Password are optional; an empty BindDN keeps the connection anonymous
	BindDN   string
	Password string
	// StartTLS upgrades the connection before binding
	StartTLS bool
	// CACert is a PEM bundle trusted for StartTLS; the system pool is used when empty
	CACert []byte
	// ServerName overrides the host name the certificate is verified against
	ServerName string
	// InsecureSkipVerify disables server certificate verification
	InsecureSkipVerify bool
	// Timeout bounds dialing and every request
	Timeout time.Duration
}

// Client represents an LDAP client wrapper
type Client struct {
	conn   *ldap.Conn
	config *Config
	bound  bool
}

// NewClient creates a new LDAP client
func NewClient(config *Config) (*Client, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL %q: %w", config.URL, err)
	}

	conn, err := ldap.DialURL(config.URL, ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LDAP server: %w", err)
	}
	conn.SetTimeout(timeout)

	if config.StartTLS {
		tlsConfig, err := newTLSConfig(u.Hostname(), config)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	client := &Client{
		conn:   conn,
		config: config,
	}

	if config.BindDN != "" {
		if err := conn.Bind(config.BindDN, config.Password); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to bind to LDAP server: %w", err)
		}
		client.bound = true
	}

	return client, nil
}

func newTLSConfig(serverName string, config *Config) (*tls.Config, error) {
	if config.ServerName != "" {
		serverName = config.ServerName
	}
	tlsConfig := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: config.InsecureSkipVerify, // #nosec G402 -- opt-in for probes against pod addresses
		MinVersion:         tls.VersionTLS12,
	}
	if len(config.CACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(config.CACert) {
			return nil, fmt.Errorf("no valid certificate found in CA bundle")
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Close closes the LDAP connection
func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

// TestConnection tests if the LDAP connection is working. Anonymous
// connections read the root DSE; bound connections read the base DN.
func (c *Client) TestConnection() error {
	if c.conn == nil {
		return fmt.Errorf("no active connection")
	}

	base := ""
	if c.bound {
		base = c.config.BaseDN
	}

	searchRequest := ldap.NewSearchRequest(
		base,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1,
		int(c.timeout().Seconds()),
		false,
		"(objectClass=*)",
		[]string{"dn"},
		nil,
	)

	_, err := c.conn.Search(searchRequest)
	return err
}

// SearchUsers searches for posix accounts below the base DN
func (c *Client) SearchUsers(filter string, attributes []string) ([]*ldap.Entry, error) {
	if filter == "" {
		filter = "(objectClass=posixAccount)"
	}

	searchRequest := ldap.NewSearchRequest(
		c.config.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		int(c.timeout().Seconds()),
		false,
		filter,
		attributes,
		nil,
	)

	result, err := c.conn.Search(searchRequest)
	if err != nil {
		return nil, err
	}

	return result.Entries, nil
}

func (c *Client) timeout() time.Duration {
	if c.config.Timeout > 0 {
		return c.config.Timeout
	}
	return defaultTimeout
}

// Probe dials, optionally binds, runs a test search and disconnects
func Probe(config *Config) error {
	client, err := NewClient(config)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.TestConnection()
}

// URL builds the ldap:// URL advertised for a host and port
func URL(host string, port int) string {
	return fmt.Sprintf("ldap://%s", net.JoinHostPort(host, fmt.Sprint(port)))
}

// BindDN builds the DN of a GLAuth bind account: the user is the common
// name and its primary group the organizational unit. Both names are
// expected to be validated already.
func BindDN(user, group, baseDN string) string {
	return fmt.Sprintf("cn=%s,ou=%s,%s", user, group, baseDN)
}
