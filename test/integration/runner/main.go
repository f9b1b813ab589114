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

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/guided-traffic/glauth-k8s-operator/internal/ldap"
)

// SmokeConfig holds the connection settings of a deployed GLAuth
type SmokeConfig struct {
	URL        string
	BaseDN     string
	BindDN     string
	Password   string
	StartTLS   bool
	CACertFile string
	ServerName string
	Timeout    time.Duration
}

// LoadSmokeConfig loads configuration from environment variables or flags
func LoadSmokeConfig() *SmokeConfig {
	config := &SmokeConfig{
		URL:     "ldap://localhost:3893",
		BaseDN:  "dc=glauth,dc=com",
		Timeout: 30 * time.Second,
	}

	// Override with environment variables
	if url := os.Getenv("GLAUTH_URL"); url != "" {
		config.URL = url
	}
	if baseDN := os.Getenv("GLAUTH_BASE_DN"); baseDN != "" {
		config.BaseDN = baseDN
	}
	config.BindDN = os.Getenv("GLAUTH_BIND_DN")
	config.Password = os.Getenv("GLAUTH_BIND_PASSWORD")
	if starttls := os.Getenv("GLAUTH_STARTTLS"); starttls != "" {
		if v, err := strconv.ParseBool(starttls); err == nil {
			config.StartTLS = v
		}
	}
	config.CACertFile = os.Getenv("GLAUTH_CA_CERT")
	config.ServerName = os.Getenv("GLAUTH_SERVER_NAME")

	// Override with command line flags
	flag.StringVar(&config.URL, "url", config.URL, "GLAuth LDAP URL")
	flag.StringVar(&config.BaseDN, "base-dn", config.BaseDN, "LDAP base DN")
	flag.StringVar(&config.BindDN, "bind-dn", config.BindDN, "bind DN, e.g. taken from the ldap relation data")
	flag.StringVar(&config.Password, "bind-password", config.Password, "bind password")
	flag.BoolVar(&config.StartTLS, "starttls", config.StartTLS, "upgrade the connection with StartTLS")
	flag.StringVar(&config.CACertFile, "ca-cert", config.CACertFile, "PEM file with the CA that signed the GLAuth certificate")
	flag.StringVar(&config.ServerName, "server-name", config.ServerName, "host name to verify the certificate against")
	flag.DurationVar(&config.Timeout, "timeout", config.Timeout, "request timeout")
	flag.Parse()

	return config
}

func (c *SmokeConfig) ldapConfig(bind bool) (*ldap.Config, error) {
	cfg := &ldap.Config{
		URL:        c.URL,
		BaseDN:     c.BaseDN,
		StartTLS:   c.StartTLS,
		ServerName: c.ServerName,
		Timeout:    c.Timeout,
	}
	if bind {
		cfg.BindDN = c.BindDN
		cfg.Password = c.Password
	}
	if c.CACertFile != "" {
		ca, err := os.ReadFile(c.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		cfg.CACert = ca
	}
	return cfg, nil
}

// Result is the outcome of one check
type Result struct {
	Name     string
	Passed   bool
	Skipped  bool
	Error    error
	Duration time.Duration
}

// Suite runs the smoke checks
type Suite struct {
	config  *SmokeConfig
	results []Result
}

// Run runs a single check
func (s *Suite) Run(name string, check func() error) {
	start := time.Now()
	err := check()
	duration := time.Since(start)

	s.results = append(s.results, Result{Name: name, Passed: err == nil, Error: err, Duration: duration})
	if err != nil {
		log.Printf("FAIL: %s (%v) - %v", name, duration, err)
	} else {
		log.Printf("PASS: %s (%v)", name, duration)
	}
}

// Skip records a check that cannot run with the given configuration
func (s *Suite) Skip(name, reason string) {
	s.results = append(s.results, Result{Name: name, Skipped: true})
	log.Printf("SKIP: %s - %s", name, reason)
}

// PrintResults prints the summary
func (s *Suite) PrintResults() {
	var passed, failed, skipped int
	for _, r := range s.results {
		switch {
		case r.Skipped:
			skipped++
		case r.Passed:
			passed++
		default:
			failed++
		}
	}

	fmt.Printf("\n=== Smoke Results ===\n")
	fmt.Printf("Passed: %d\n", passed)
	fmt.Printf("Failed: %d\n", failed)
	fmt.Printf("Skipped: %d\n", skipped)

	if failed > 0 {
		fmt.Printf("\nFailed checks:\n")
		for _, r := range s.results {
			if !r.Passed && !r.Skipped {
				fmt.Printf("  - %s: %v\n", r.Name, r.Error)
			}
		}
	}
}

// ExitCode is non-zero when a check failed
func (s *Suite) ExitCode() int {
	for _, r := range s.results {
		if !r.Passed && !r.Skipped {
			return 1
		}
	}
	return 0
}

// checkRootDSE reads the root DSE anonymously, the same probe update-status runs
func (s *Suite) checkRootDSE() error {
	cfg, err := s.config.ldapConfig(false)
	if err != nil {
		return err
	}
	return ldap.Probe(cfg)
}

// checkBind binds with the relation credentials and reads the base DN
func (s *Suite) checkBind() error {
	cfg, err := s.config.ldapConfig(true)
	if err != nil {
		return err
	}
	return ldap.Probe(cfg)
}

// checkSearchUsers expects the bind account itself among the posix accounts
func (s *Suite) checkSearchUsers() error {
	cfg, err := s.config.ldapConfig(true)
	if err != nil {
		return err
	}
	client, err := ldap.NewClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	entries, err := client.SearchUsers("", []string{"cn", "uidNumber"})
	if err != nil {
		return fmt.Errorf("failed to search users: %w", err)
	}
	for _, entry := range entries {
		if entry.DN == s.config.BindDN {
			return nil
		}
	}
	return fmt.Errorf("bind account %s not found among %d users", s.config.BindDN, len(entries))
}

// checkWrongPassword expects GLAuth to reject a bad password
func (s *Suite) checkWrongPassword() error {
	cfg, err := s.config.ldapConfig(true)
	if err != nil {
		return err
	}
	cfg.Password += "-wrong"
	if err := ldap.Probe(cfg); err == nil {
		return fmt.Errorf("bind with a wrong password succeeded")
	}
	return nil
}

func main() {
	config := LoadSmokeConfig()

	fmt.Printf("Running smoke checks against GLAuth at %s\n", config.URL)
	fmt.Printf("Base DN: %s\n", config.BaseDN)
	fmt.Printf("StartTLS: %t\n", config.StartTLS)

	suite := &Suite{config: config}
	suite.Run("Root DSE", suite.checkRootDSE)
	if config.BindDN == "" {
		for _, name := range []string{"Bind", "Search Users", "Wrong Password"} {
			suite.Skip(name, "no bind DN given")
		}
	} else {
		suite.Run("Bind", suite.checkBind)
		suite.Run("Search Users", suite.checkSearchUsers)
		suite.Run("Wrong Password", suite.checkWrongPassword)
	}

	suite.PrintResults()
	os.Exit(suite.ExitCode())
}
