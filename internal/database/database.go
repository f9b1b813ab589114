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
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Querier is the part of a pgx transaction the account bootstrap needs
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Operation runs fn in a single transaction against the database behind
// dsn. The transaction is committed when fn succeeds and rolled back otherwise.
func Operation(ctx context.Context, dsn string, fn func(ctx context.Context, q Querier) error) error {
	logger := log.FromContext(ctx)

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to the database: %w", err)
	}
	defer func() {
		if err := conn.Close(ctx); err != nil {
			logger.Error(err, "Failed to close database connection")
		}
	}()

	err = pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil {
		logger.Error(err, "The database operation failed")
		return err
	}
	return nil
}
