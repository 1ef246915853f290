// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGBackend stores documents of all users in Postgres as JSONB.
type PGBackend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPGBackend creates the document schema if needed and returns the backend.
func NewPGBackend(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PGBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return initializeSchemaInTx(ctx, tx)
	})
	if err != nil {
		logger.Error("Failed to initialize document schema", "error", err)
		return nil, fmt.Errorf("failed to initialize document schema: %w", err)
	}
	logger.Debug("Document schema initialized")
	return &PGBackend{pool: pool, logger: logger}, nil
}

// Close marks the backend closed. The pool is owned by the caller.
func (b *PGBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *PGBackend) checkClosed() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("%w: backend is closed", ErrUnavailable)
	}
	return nil
}

func (b *PGBackend) ForUser(userID string) DocumentStore {
	return &PGStore{backend: b, userID: userID}
}

// PGStore is the document store of one user.
type PGStore struct {
	backend *PGBackend
	userID  string
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.backend.checkClosed(); err != nil {
		return err
	}
	if err := s.backend.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PGStore) Stream(ctx context.Context, c Collection, fn func(Document) error) error {
	return streamPages(ctx, s, c, DefaultPageSize, fn)
}

func (s *PGStore) List(ctx context.Context, c Collection, after int64, limit int) ([]Document, error) {
	if err := s.backend.checkClosed(); err != nil {
		return nil, err
	}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	rows, err := s.backend.pool.Query(ctx, `
		SELECT doc_id::text, seq, payload
		FROM ledger.documents
		WHERE user_id = $1 AND collection = $2 AND seq > $3
		ORDER BY seq
		LIMIT $4`, s.userID, string(c), after, limit)
	if err != nil {
		return nil, classifyPGError(err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var d Document
		var payload []byte
		if err := rows.Scan(&d.ID, &d.Seq, &payload); err != nil {
			return nil, classifyPGError(err)
		}
		d.Data = payload
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPGError(err)
	}
	return docs, nil
}

func (s *PGStore) Create(ctx context.Context, c Collection, localID string, data json.RawMessage) (string, error) {
	if err := s.backend.checkClosed(); err != nil {
		return "", err
	}
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	var origin *string
	if localID != "" {
		origin = &localID
	}

	var id string
	err := withPGRetry(ctx, func() error {
		return s.backend.pool.QueryRow(ctx, `
			INSERT INTO ledger.documents (user_id, collection, doc_id, origin_local_id, payload)
			VALUES ($1, $2, $3, $4, $5::jsonb)
			ON CONFLICT (user_id, collection, origin_local_id) WHERE origin_local_id IS NOT NULL
			DO UPDATE SET payload    = ledger.documents.payload || EXCLUDED.payload,
			              updated_at = now(),
			              seq        = nextval('ledger.document_seq')
			RETURNING doc_id::text`,
			s.userID, string(c), uuid.New(), origin, []byte(data)).Scan(&id)
	})
	if err != nil {
		return "", classifyPGError(err)
	}
	return id, nil
}

func (s *PGStore) Merge(ctx context.Context, c Collection, id string, data json.RawMessage) error {
	if err := s.backend.checkClosed(); err != nil {
		return err
	}
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	docID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, c, id)
	}

	err = withPGRetry(ctx, func() error {
		tag, err := s.backend.pool.Exec(ctx, `
			UPDATE ledger.documents
			SET payload    = payload || $4::jsonb,
			    updated_at = now(),
			    seq        = nextval('ledger.document_seq')
			WHERE user_id = $1 AND collection = $2 AND doc_id = $3`,
			s.userID, string(c), docID, []byte(data))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, c, id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrDocumentNotFound) {
		s.backend.logger.Warn("Document merge failed", "collection", c, "doc_id", id, "error", err)
	}
	return classifyPGError(err)
}
