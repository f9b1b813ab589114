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

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Databag is one side of a relation's key/value store. Setting a key to the
// empty string removes it.
type Databag map[string]string

// AuthMethodSimple is the only bind method GLAuth advertises
const AuthMethodSimple = "simple"

// encodeBool follows the ldap interface convention: true is "True" and
// false is sent as an empty value.
func encodeBool(b bool) string {
	if b {
		return "True"
	}
	return ""
}

func decodeBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

// LdapProviderBaseData is the part of the ldap provider data that only
// depends on charm configuration
type LdapProviderBaseData struct {
	URL      string `json:"url"`
	BaseDN   string `json:"base_dn"`
	StartTLS bool   `json:"starttls"`
}

// Databag encodes the base data for the provider application databag
func (d LdapProviderBaseData) Databag() Databag {
	return Databag{
		"url":      d.URL,
		"base_dn":  d.BaseDN,
		"starttls": encodeBool(d.StartTLS),
	}
}

// LdapProviderData is everything an ldap requirer needs to bind to GLAuth
type LdapProviderData struct {
	URL                string `json:"url"`
	BaseDN             string `json:"base_dn"`
	BindDN             string `json:"bind_dn"`
	BindPasswordSecret string `json:"bind_password_secret"`
	AuthMethod         string `json:"auth_method"`
	StartTLS           bool   `json:"starttls"`
}

// Databag encodes the provider data for the provider application databag
func (d LdapProviderData) Databag() Databag {
	return Databag{
		"url":                  d.URL,
		"base_dn":              d.BaseDN,
		"bind_dn":              d.BindDN,
		"bind_password_secret": d.BindPasswordSecret,
		"auth_method":          d.AuthMethod,
		"starttls":             encodeBool(d.StartTLS),
	}
}

// LdapProviderDataFromDatabag decodes provider data, as a requirer would
func LdapProviderDataFromDatabag(bag Databag) (*LdapProviderData, error) {
	if len(bag) == 0 {
		return nil, nil
	}
	for _, key := range []string{"url", "base_dn", "bind_dn", "bind_password_secret", "auth_method"} {
		if _, ok := bag[key]; !ok {
			return nil, fmt.Errorf("missing key %q in ldap provider data", key)
		}
	}
	return &LdapProviderData{
		URL:                bag["url"],
		BaseDN:             bag["base_dn"],
		BindDN:             bag["bind_dn"],
		BindPasswordSecret: bag["bind_password_secret"],
		AuthMethod:         bag["auth_method"],
		StartTLS:           decodeBool(bag["starttls"]),
	}, nil
}

// LdapRequirerData is what an ldap requirer asks for: a bind user and its group
type LdapRequirerData struct {
	User  string `json:"user"`
	Group string `json:"group"`
}

// LdapRequirerDataFromDatabag decodes requirer data. It returns nil when the
// requirer has not published both the user and the group yet.
func LdapRequirerDataFromDatabag(bag Databag) *LdapRequirerData {
	user, group := bag["user"], bag["group"]
	if user == "" || group == "" {
		return nil
	}
	return &LdapRequirerData{User: user, Group: group}
}

// AuxiliaryData shares the GLAuth database with auxiliary charms
type AuxiliaryData struct {
	Database string `json:"database"`
	Endpoint string `json:"endpoint"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Databag encodes the auxiliary data for the provider application databag
func (d AuxiliaryData) Databag() Databag {
	return Databag{
		"database": d.Database,
		"endpoint": d.Endpoint,
		"username": d.Username,
		"password": d.Password,
	}
}

// DatabaseRequest is published by the charm on the postgresql_client relation
type DatabaseRequest struct {
	Database       string `json:"database"`
	ExtraUserRoles string `json:"extra-user-roles,omitempty"`
}

// Databag encodes the request for the requirer application databag
func (r DatabaseRequest) Databag() Databag {
	bag := Databag{"database": r.Database}
	if r.ExtraUserRoles != "" {
		bag["extra-user-roles"] = r.ExtraUserRoles
	}
	return bag
}

// DatabaseResponse is what the postgresql provider publishes once the
// database has been created
type DatabaseResponse struct {
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Endpoints  string `json:"endpoints,omitempty"`
	SecretUser string `json:"secret-user,omitempty"`
}

// DatabaseResponseFromDatabag decodes the provider application databag
func DatabaseResponseFromDatabag(bag Databag) DatabaseResponse {
	return DatabaseResponse{
		Username:   bag["username"],
		Password:   bag["password"],
		Endpoints:  bag["endpoints"],
		SecretUser: bag["secret-user"],
	}
}

// CertificateSigningRequest is one entry of the requirer's CSR list
type CertificateSigningRequest struct {
	CertificateSigningRequest string `json:"certificate_signing_request"`
	CA                        bool   `json:"ca"`
}

// ProviderCertificate is one entry of the tls-certificates provider's list
type ProviderCertificate struct {
	Certificate               string   `json:"certificate"`
	CertificateSigningRequest string   `json:"certificate_signing_request"`
	CA                        string   `json:"ca"`
	Chain                     []string `json:"chain,omitempty"`
	Revoked                   bool     `json:"revoked,omitempty"`
}

// CertificateSigningRequestsDatabag encodes the requirer unit databag
func CertificateSigningRequestsDatabag(csrs []CertificateSigningRequest) (Databag, error) {
	if len(csrs) == 0 {
		return Databag{"certificate_signing_requests": ""}, nil
	}
	raw, err := json.Marshal(csrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode certificate signing requests: %w", err)
	}
	return Databag{"certificate_signing_requests": string(raw)}, nil
}

// ProviderCertificatesFromDatabag decodes the provider application databag
func ProviderCertificatesFromDatabag(bag Databag) ([]ProviderCertificate, error) {
	raw, ok := bag["certificates"]
	if !ok || raw == "" {
		return nil, nil
	}
	var certs []ProviderCertificate
	if err := json.Unmarshal([]byte(raw), &certs); err != nil {
		return nil, fmt.Errorf("failed to decode provider certificates: %w", err)
	}
	return certs, nil
}

// CertificateTransferData is published on the certificate_transfer relation
type CertificateTransferData struct {
	Certificate string   `json:"certificate"`
	CA          string   `json:"ca"`
	Chain       []string `json:"chain"`
}

// Databag encodes the transfer data for the provider unit databag
func (d CertificateTransferData) Databag() (Databag, error) {
	chain, err := json.Marshal(d.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to encode certificate chain: %w", err)
	}
	return Databag{
		"certificate": d.Certificate,
		"ca":          d.CA,
		"chain":       string(chain),
	}, nil
}

// ClearCertificateTransferDatabag removes previously transferred certificates
func ClearCertificateTransferDatabag() Databag {
	return Databag{
		"certificate": "",
		"ca":          "",
		"chain":       "",
	}
}

// StaticConfig is a prometheus static scrape target list
type StaticConfig struct {
	Targets []string `json:"targets"`
}

// ScrapeJob is a prometheus scrape job published on metrics-endpoint
type ScrapeJob struct {
	MetricsPath   string         `json:"metrics_path"`
	StaticConfigs []StaticConfig `json:"static_configs"`
}

// ScrapeMetadata identifies the scraped application to prometheus
type ScrapeMetadata struct {
	Model       string `json:"model"`
	ModelUUID   string `json:"model_uuid"`
	Application string `json:"application"`
	CharmName   string `json:"charm_name"`
}

// ScrapeDatabag encodes the scrape jobs and metadata for the provider
// application databag
func ScrapeDatabag(jobs []ScrapeJob, metadata ScrapeMetadata) (Databag, error) {
	rawJobs, err := json.Marshal(jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scrape jobs: %w", err)
	}
	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scrape metadata: %w", err)
	}
	return Databag{
		"scrape_jobs":     string(rawJobs),
		"scrape_metadata": string(rawMetadata),
	}, nil
}
