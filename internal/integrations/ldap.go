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

package integrations

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/guided-traffic/glauth-k8s-operator/api/v1"
	"github.com/guided-traffic/glauth-k8s-operator/internal/configs"
	"github.com/guided-traffic/glauth-k8s-operator/internal/database"
	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
	"github.com/guided-traffic/glauth-k8s-operator/internal/ldap"
)

// BindAccountFunc provisions a bind account in the database behind dsn
type BindAccountFunc func(ctx context.Context, dsn, user, group, password string) (*database.BindAccount, error)

// EnsureBindAccount provisions the account in a single transaction
func EnsureBindAccount(ctx context.Context, dsn, user, group, password string) (*database.BindAccount, error) {
	var account *database.BindAccount
	err := database.Operation(ctx, dsn, func(ctx context.Context, q database.Querier) error {
		var err error
		account, err = database.EnsureBindAccount(ctx, q, user, group, password)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// LdapIntegration provides the ldap interface to requirer charms
type LdapIntegration struct {
	hook        *hookenv.Context
	config      *v1.CharmConfig
	peers       *PeerStore
	bindAccount BindAccountFunc
	account     *database.BindAccount
}

// NewLdapIntegration creates an LdapIntegration. A nil bindAccount
// provisions accounts in Postgres.
func NewLdapIntegration(hook *hookenv.Context, config *v1.CharmConfig, peers *PeerStore, bindAccount BindAccountFunc) *LdapIntegration {
	if bindAccount == nil {
		bindAccount = EnsureBindAccount
	}
	return &LdapIntegration{hook: hook, config: config, peers: peers, bindAccount: bindAccount}
}

// URL is the advertised LDAP URL
func (l *LdapIntegration) URL() string {
	return ldap.URL(l.config.Hostname, configs.LdapPort)
}

// ProviderBaseData only depends on the charm configuration
func (l *LdapIntegration) ProviderBaseData() v1.LdapProviderBaseData {
	return v1.LdapProviderBaseData{
		URL:      l.URL(),
		BaseDN:   l.config.BaseDN,
		StartTLS: l.config.StartTLS(),
	}
}

// ProviderData is nil until a bind account has been loaded
func (l *LdapIntegration) ProviderData() *v1.LdapProviderData {
	if l.account == nil {
		return nil
	}
	return &v1.LdapProviderData{
		URL:                l.URL(),
		BaseDN:             l.config.BaseDN,
		BindDN:             ldap.BindDN(l.account.User, l.account.Group, l.config.BaseDN),
		BindPasswordSecret: l.account.Password,
		AuthMethod:         v1.AuthMethodSimple,
		StartTLS:           l.config.StartTLS(),
	}
}

// RequirerData reads and validates what the requirer on rel asked for. It
// returns nil when the requirer has not published its request yet.
func (l *LdapIntegration) RequirerData(ctx context.Context, rel hookenv.Relation) (*v1.LdapRequirerData, error) {
	bag, err := remoteAppData(ctx, l.hook, rel)
	if err != nil {
		return nil, err
	}
	data := v1.LdapRequirerDataFromDatabag(bag)
	if data == nil {
		return nil, nil
	}
	if errs := data.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid ldap request on %s: %w", rel, errs.ToAggregate())
	}
	return data, nil
}

// LoadBindAccount provisions the bind account for a requirer
func (l *LdapIntegration) LoadBindAccount(ctx context.Context, db configs.DatabaseConfig, user, group string) error {
	password, err := l.peers.BindPassword(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to get bind password for %s: %w", user, err)
	}

	account, err := l.bindAccount(ctx, db.DSN(), user, group, password)
	if err != nil {
		return fmt.Errorf("failed to create bind account %s: %w", user, err)
	}
	l.account = account
	log.FromContext(ctx).Info("Loaded bind account", "user", user, "group", group)
	return nil
}

// UpdateRelationsAppData publishes bag on rel, or on every ldap relation when rel is nil
func (l *LdapIntegration) UpdateRelationsAppData(ctx context.Context, bag v1.Databag, rel *hookenv.Relation) error {
	return updateAppData(ctx, l.hook, LdapIntegrationName, rel, bag)
}
