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
	"strings"

	"github.com/go-ldap/ldap/v3"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Validate validates the CharmConfig
func (c *CharmConfig) Validate() field.ErrorList {
	var errs field.ErrorList

	// Validate base DN
	if c.BaseDN == "" {
		errs = append(errs, field.Required(field.NewPath("base_dn"), "base_dn cannot be empty"))
	} else if !isValidDN(c.BaseDN) {
		errs = append(errs, field.Invalid(field.NewPath("base_dn"), c.BaseDN, "base_dn is not a valid distinguished name"))
	}

	// Validate hostname
	if c.Hostname == "" {
		errs = append(errs, field.Required(field.NewPath("hostname"), "hostname cannot be empty"))
	} else {
		for _, msg := range validation.IsDNS1123Subdomain(c.Hostname) {
			errs = append(errs, field.Invalid(field.NewPath("hostname"), c.Hostname, msg))
		}
	}

	return errs
}

// Validate validates the data published by an ldap requirer
func (d *LdapRequirerData) Validate() field.ErrorList {
	var errs field.ErrorList

	if d.User == "" {
		errs = append(errs, field.Required(field.NewPath("user"), "user cannot be empty"))
	} else if !isValidUsername(d.User) {
		errs = append(errs, field.Invalid(field.NewPath("user"), d.User, "user contains invalid characters"))
	}

	if d.Group == "" {
		errs = append(errs, field.Required(field.NewPath("group"), "group cannot be empty"))
	} else if !isValidGroupName(d.Group) {
		errs = append(errs, field.Invalid(field.NewPath("group"), d.Group, "group contains invalid characters"))
	}

	return errs
}

// isValidDN checks if the value parses as a non-empty distinguished name
func isValidDN(dn string) bool {
	if strings.TrimSpace(dn) == "" {
		return false
	}
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return false
	}
	return len(parsed.RDNs) > 0
}

// isValidUsername checks if the username is valid
func isValidUsername(username string) bool {
	if len(username) == 0 || len(username) > 64 {
		return false
	}
	// Username should contain only alphanumeric characters, dots, hyphens, and underscores
	for _, char := range username {
		if !isNameChar(char) {
			return false
		}
	}
	return true
}

// isValidGroupName checks if the group name is valid
func isValidGroupName(groupName string) bool {
	if len(groupName) == 0 || len(groupName) > 64 {
		return false
	}
	for _, char := range groupName {
		if !isNameChar(char) {
			return false
		}
	}
	return true
}

func isNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '.' || char == '-' || char == '_'
}
