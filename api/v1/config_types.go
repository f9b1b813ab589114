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

package v1

const (
	// DefaultBaseDN is the base DN served when the operator does not set one
	DefaultBaseDN = "dc=glauth,dc=com"
	// DefaultHostname is the advertised hostname when the operator does not set one
	DefaultHostname = "ldap.glauth.com"
)

// CharmConfig holds the charm configuration options as returned by config-get
type CharmConfig struct {
	// BaseDN is the LDAP base distinguished name served by GLAuth
	BaseDN string `json:"base_dn,omitempty"`

	// Hostname is the externally visible hostname of the LDAP service.
	// It is used in the advertised URL and in the certificate SANs.
	Hostname string `json:"hostname,omitempty"`

	// StartTLSEnabled toggles StartTLS on the LDAP listener (default: true)
	StartTLSEnabled *bool `json:"starttls_enabled,omitempty"`
}

// SetDefaults sets default values for CharmConfig
func (c *CharmConfig) SetDefaults() {
	if c.BaseDN == "" {
		c.BaseDN = DefaultBaseDN
	}

	if c.Hostname == "" {
		c.Hostname = DefaultHostname
	}

	if c.StartTLSEnabled == nil {
		enabled := true
		c.StartTLSEnabled = &enabled
	}
}

// StartTLS reports whether StartTLS is enabled, treating an unset option as enabled
func (c *CharmConfig) StartTLS() bool {
	return c.StartTLSEnabled == nil || *c.StartTLSEnabled
}
