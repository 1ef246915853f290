// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated ledger owner and writing replica
// through request contexts.
package auth

import (
	"context"
)

// Principal identifies who is calling the document API. Owner scopes every
// document read and write; Device names the replica that wrote it.
type Principal struct {
	Owner  string
	Device string
}

// Valid reports whether both identities are present.
func (p Principal) Valid() bool {
	return p.Owner != "" && p.Device != ""
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal. The second
// result is false when none was stored or it is incomplete.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.Valid()
}
