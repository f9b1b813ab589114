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
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/guided-traffic/glauth-k8s-operator/internal/hookenv"
)

// ErrPeerRelationNotReady is returned before Juju has created the peer relation
var ErrPeerRelationNotReady = errors.New("peer relation is not ready")

const bindPasswordKeyPrefix = "bind-password-"

// PeerStore keeps application wide secrets in the peer application databag.
// Only the leader may write.
type PeerStore struct {
	hook *hookenv.Context
}

// NewPeerStore creates a PeerStore
func NewPeerStore(hook *hookenv.Context) *PeerStore {
	return &PeerStore{hook: hook}
}

func (p *PeerStore) relation(ctx context.Context) (hookenv.Relation, error) {
	relations, err := p.hook.RelationIDs(ctx, PeerIntegrationName)
	if err != nil {
		return hookenv.Relation{}, fmt.Errorf("failed to list peer relations: %w", err)
	}
	if len(relations) == 0 {
		return hookenv.Relation{}, ErrPeerRelationNotReady
	}
	return relations[0], nil
}

// Get returns the value stored under key, or "" when it is absent
func (p *PeerStore) Get(ctx context.Context, key string) (string, error) {
	rel, err := p.relation(ctx)
	if err != nil {
		return "", err
	}
	data, err := p.hook.RelationGet(ctx, rel, p.hook.Env().AppName(), true)
	if err != nil {
		return "", fmt.Errorf("failed to read peer data: %w", err)
	}
	return data[key], nil
}

// Set stores the given keys
func (p *PeerStore) Set(ctx context.Context, data map[string]string) error {
	rel, err := p.relation(ctx)
	if err != nil {
		return err
	}
	if err := p.hook.RelationSet(ctx, rel, true, data); err != nil {
		return fmt.Errorf("failed to write peer data: %w", err)
	}
	return nil
}

// BindPassword returns the stored password of a bind user, generating and
// storing one on first use
func (p *PeerStore) BindPassword(ctx context.Context, user string) (string, error) {
	key := bindPasswordKeyPrefix + user
	password, err := p.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if password != "" {
		return password, nil
	}

	password, err = generatePassword()
	if err != nil {
		return "", err
	}
	if err := p.Set(ctx, map[string]string{key: password}); err != nil {
		return "", err
	}
	return password, nil
}

func generatePassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
