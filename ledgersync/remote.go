// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package ledgersync defines the remote document store the ledger replicates
// to: the per-collection document schema, the RemoteStore contract used by
// replicas, and the Postgres, in-memory and HTTP implementations of it.
package ledgersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names a remote document collection.
type Collection string

const (
	CollectionCustomers    Collection = "customers"
	CollectionTransactions Collection = "transactions"
)

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	return c == CollectionCustomers || c == CollectionTransactions
}

// ParseCollection validates a collection name taken from a request.
func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, s)
	}
	return c, nil
}

// Document is one remote record. Seq increases on every create or merge and
// orders the collection stream.
type Document struct {
	ID   string          `json:"id"`
	Seq  int64           `json:"seq"`
	Data json.RawMessage `json:"data"`
}

var (
	// ErrUnavailable means the remote store could not be reached.
	ErrUnavailable = errors.New("remote store unavailable")
	// ErrUnauthorized means the remote store refused our credentials.
	ErrUnauthorized = errors.New("remote store rejected credentials")
	// ErrDocumentNotFound is returned by Merge for an unknown document id.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrRejected means the remote store refused a single document write.
	ErrRejected = errors.New("document rejected")
	// ErrInvalidDocument marks a document missing required fields.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrUnknownCollection is returned for collection names other than customers and transactions.
	ErrUnknownCollection = errors.New("unknown collection")
)

// IsConnectivity reports whether err should abort a whole sync cycle rather
// than just the record being written.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// RemoteStore is what a replica needs from the remote authority.
type RemoteStore interface {
	// Ping verifies reachability and credentials.
	Ping(ctx context.Context) error
	// Stream calls fn for every document of c in seq order. An error from fn stops the stream.
	Stream(ctx context.Context, c Collection, fn func(Document) error) error
	// Create stores a new document and returns its id. Creating twice with the
	// same non-empty localID returns the id of the first document.
	Create(ctx context.Context, c Collection, localID string, data json.RawMessage) (string, error)
	// Merge overlays the top-level fields of data onto document id.
	Merge(ctx context.Context, c Collection, id string, data json.RawMessage) error
}

// DocumentStore is a RemoteStore that also serves paged listing.
type DocumentStore interface {
	RemoteStore
	List(ctx context.Context, c Collection, after int64, limit int) ([]Document, error)
}

// Backend hands out the document store of a single user.
type Backend interface {
	ForUser(userID string) DocumentStore
}

// DefaultPageSize is used by Stream implementations.
const DefaultPageSize = 500

func streamPages(ctx context.Context, s DocumentStore, c Collection, pageSize int, fn func(Document) error) error {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	after := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		docs, err := s.List(ctx, c, after, pageSize)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := fn(d); err != nil {
				return err
			}
			if d.Seq > after {
				after = d.Seq
			}
		}
		if len(docs) < pageSize {
			return nil
		}
	}
}

// mergeJSON overlays the top-level keys of patch onto base.
func mergeJSON(base, patch json.RawMessage) (json.RawMessage, error) {
	merged := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, fmt.Errorf("decode stored document: %w", err)
		}
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil || overlay == nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrRejected)
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return json.Marshal(merged)
}
