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

package configs

import (
	"bytes"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/sprig/v3"

	"github.com/guided-traffic/glauth-k8s-operator/internal/workload"
)

const (
	// LdapPort is the port of the plain/StartTLS LDAP listener
	LdapPort = 3893
	// APIPort serves the GLAuth API and the prometheus metrics
	APIPort = 5555

	WorkloadContainer = "glauth"
	WorkloadService   = "glauth"

	ConfigDir      = "/etc/config"
	ConfigFileName = "glauth.cfg"
	ConfigFilePath = ConfigDir + "/" + ConfigFileName
	LogDir         = "/var/log"
	LogFilePath    = LogDir + "/glauth.log"

	PrivateKeyPath   = "/etc/ssl/private/glauth.key"
	CertificatePath  = "/etc/ssl/certs/glauth.crt"
	CACertPath       = "/usr/local/share/ca-certificates/glauth-ca.crt"
	CABundlePath     = "/etc/ssl/certs/ca-certificates.crt"
	pebbleLayerLabel = "glauth"
)

//go:embed templates/glauth.cfg.tmpl
var templates embed.FS

var configTemplate = template.Must(
	template.New("glauth.cfg.tmpl").
		Funcs(sprig.TxtFuncMap()).
		Funcs(template.FuncMap{"toml": tomlString}).
		ParseFS(templates, "templates/glauth.cfg.tmpl"),
)

// tomlString renders s as a TOML basic string, quotes included
func tomlString(s string) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(map[string]string{"v": s}); err != nil {
		return "", fmt.Errorf("failed to encode %q as TOML: %w", s, err)
	}
	return strings.TrimSpace(strings.TrimPrefix(buf.String(), "v = ")), nil
}

// DatabaseConfig holds the credentials of the GLAuth Postgres backend
type DatabaseConfig struct {
	// Endpoint is a comma separated host:port list as published by the provider
	Endpoint string
	Database string
	Username string
	Password string
}

// Host returns the first endpoint; GLAuth only talks to one server
func (d DatabaseConfig) Host() string {
	host, _, _ := strings.Cut(d.Endpoint, ",")
	return strings.TrimSpace(host)
}

// DSN renders a postgres connection URL
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.Username, d.Password),
		Host:   d.Host(),
		Path:   "/" + d.Database,
	}
	return u.String()
}

// IsEmpty reports whether no credentials were provided yet
func (d DatabaseConfig) IsEmpty() bool {
	return d.Endpoint == "" || d.Username == "" || d.Password == "" || d.Database == ""
}

// StartTLSConfig controls TLS on the LDAP listener
type StartTLSConfig struct {
	Enabled bool
	TLSKey  string
	TLSCert string
}

// NewStartTLSConfig points StartTLS at the certificate files pushed to the workload
func NewStartTLSConfig(enabled bool) StartTLSConfig {
	return StartTLSConfig{Enabled: enabled, TLSKey: PrivateKeyPath, TLSCert: CertificatePath}
}

// ConfigFile is the GLAuth configuration file
type ConfigFile struct {
	BaseDN   string
	Database DatabaseConfig
	StartTLS StartTLSConfig
}

type templateData struct {
	ConfigFile
	LdapPort int
	APIPort  int
}

// Render executes the configuration template. The output only depends on
// the receiver.
func (c ConfigFile) Render() (string, error) {
	var buf bytes.Buffer
	data := templateData{ConfigFile: c, LdapPort: LdapPort, APIPort: APIPort}
	if err := configTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", ConfigFileName, err)
	}
	return buf.String(), nil
}

// PebbleLayer is the layer that runs GLAuth inside the workload container
func PebbleLayer() *workload.Layer {
	return &workload.Layer{
		Summary:     "GLAuth layer",
		Description: "pebble layer for GLAuth service",
		Services: map[string]*workload.Service{
			WorkloadService: {
				Override: workload.ReplaceOverride,
				Summary:  "GLAuth Operator layer",
				Startup:  workload.StartupDisabled,
				Command:  fmt.Sprintf(`/bin/sh -c "glauth -c %s 2>&1 | tee %s"`, ConfigFilePath, LogFilePath),
			},
		},
	}
}

// PebbleLayerLabel is the label the layer is added under
func PebbleLayerLabel() string {
	return pebbleLayerLabel
}
