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

package database

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// DefaultUID is the lowest uid handed to bind accounts
	DefaultUID = 5001
	// DefaultGID is the lowest gid handed to bind account groups
	DefaultGID = 5501
)

// Statements against the glauth-postgres schema
const (
	selectGroupSQL      = `SELECT gidnumber FROM ldapgroups WHERE name = $1`
	nextGIDSQL          = `SELECT GREATEST(COALESCE(MAX(gidnumber) + 1, $1), $1) FROM ldapgroups`
	insertGroupSQL      = `INSERT INTO ldapgroups (name, gidnumber) VALUES ($1, $2)`
	selectUserSQL       = `SELECT uidnumber, passbcrypt FROM users WHERE name = $1`
	nextUIDSQL          = `SELECT GREATEST(COALESCE(MAX(uidnumber) + 1, $1), $1) FROM users`
	insertUserSQL       = `INSERT INTO users (name, uidnumber, primarygroup, passbcrypt) VALUES ($1, $2, $3, $4)`
	updatePasswordSQL   = `UPDATE users SET passbcrypt = $1, passsha256 = '' WHERE name = $2`
	selectCapabilitySQL = `SELECT 1 FROM capabilities WHERE userid = $1`
	insertCapabilitySQL = `INSERT INTO capabilities (userid, action, object) VALUES ($1, 'search', '*')`
)

// BindAccount is the LDAP account a requirer binds with
type BindAccount struct {
	User     string
	Group    string
	UID      int
	GID      int
	Password string
}

// EnsureBindAccount creates the group, the user and its search capability
// if they are missing. An existing user whose stored hash does not match
// password gets a fresh hash.
func EnsureBindAccount(ctx context.Context, q Querier, user, group, password string) (*BindAccount, error) {
	logger := log.FromContext(ctx).WithValues("user", user, "group", group)

	gid, err := ensureGroup(ctx, q, group)
	if err != nil {
		return nil, err
	}

	uid, err := ensureUser(ctx, q, user, gid, password)
	if err != nil {
		return nil, err
	}

	var one int
	err = q.QueryRow(ctx, selectCapabilitySQL, uid).Scan(&one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := q.Exec(ctx, insertCapabilitySQL, uid); err != nil {
			return nil, fmt.Errorf("failed to grant search capability to %s: %w", user, err)
		}
		logger.Info("Granted search capability", "uid", uid)
	case err != nil:
		return nil, fmt.Errorf("failed to look up capabilities of %s: %w", user, err)
	}

	return &BindAccount{User: user, Group: group, UID: uid, GID: gid, Password: password}, nil
}

func ensureGroup(ctx context.Context, q Querier, group string) (int, error) {
	var gid int
	err := q.QueryRow(ctx, selectGroupSQL, group).Scan(&gid)
	if err == nil {
		return gid, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up group %s: %w", group, err)
	}

	if err := q.QueryRow(ctx, nextGIDSQL, DefaultGID).Scan(&gid); err != nil {
		return 0, fmt.Errorf("failed to allocate gid for %s: %w", group, err)
	}
	if _, err := q.Exec(ctx, insertGroupSQL, group, gid); err != nil {
		return 0, fmt.Errorf("failed to create group %s: %w", group, err)
	}
	log.FromContext(ctx).Info("Created group", "group", group, "gid", gid)
	return gid, nil
}

func ensureUser(ctx context.Context, q Querier, user string, gid int, password string) (int, error) {
	var (
		uid    int
		stored *string
	)
	err := q.QueryRow(ctx, selectUserSQL, user).Scan(&uid, &stored)
	switch {
	case err == nil:
		if stored != nil && PasswordMatches(*stored, password) {
			return uid, nil
		}
		hash, err := HashPassword(password)
		if err != nil {
			return 0, err
		}
		if _, err := q.Exec(ctx, updatePasswordSQL, hash, user); err != nil {
			return 0, fmt.Errorf("failed to rotate password of %s: %w", user, err)
		}
		log.FromContext(ctx).Info("Rotated bind password", "user", user)
		return uid, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return 0, fmt.Errorf("failed to look up user %s: %w", user, err)
	}

	if err := q.QueryRow(ctx, nextUIDSQL, DefaultUID).Scan(&uid); err != nil {
		return 0, fmt.Errorf("failed to allocate uid for %s: %w", user, err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}
	if _, err := q.Exec(ctx, insertUserSQL, user, uid, gid, hash); err != nil {
		return 0, fmt.Errorf("failed to create user %s: %w", user, err)
	}
	log.FromContext(ctx).Info("Created user", "user", user, "uid", uid)
	return uid, nil
}

// HashPassword returns the hex encoded bcrypt hash GLAuth stores in passbcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return hex.EncodeToString(hash), nil
}

// PasswordMatches checks a password against a hex encoded bcrypt hash
func PasswordMatches(stored, password string) bool {
	hash, err := hex.DecodeString(stored)
	if err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
