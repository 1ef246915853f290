// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchemaInTx creates the document tables within an existing transaction.
func initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS ledger`,

		/*language=postgresql*/ `CREATE SEQUENCE IF NOT EXISTS ledger.document_seq`,

		// One row per remote document, scoped to the owning user
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS ledger.documents (
			user_id         TEXT        NOT NULL,
			collection      TEXT        NOT NULL CHECK (collection IN ('customers','transactions')),
			doc_id          UUID        NOT NULL,
			origin_local_id TEXT,
			payload         JSONB       NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			seq             BIGINT      NOT NULL DEFAULT nextval('ledger.document_seq'),
			PRIMARY KEY (user_id, collection, doc_id)
		)`,

		// Idempotent create: a replica retrying a create gets its first document back
		/*language=postgresql*/ `CREATE UNIQUE INDEX IF NOT EXISTS documents_origin_idx
			ON ledger.documents (user_id, collection, origin_local_id)
			WHERE origin_local_id IS NOT NULL`,

		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS documents_seq_idx
			ON ledger.documents (user_id, collection, seq)`,
	}

	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
