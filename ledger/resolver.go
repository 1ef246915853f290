// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import "time"

// Resolution is the outcome of comparing a local and a remote version of the same entity.
type Resolution int

const (
	KeepLocal Resolution = iota
	TakeRemote
)

func (r Resolution) String() string {
	if r == TakeRemote {
		return "take_remote"
	}
	return "keep_local"
}

// Resolve applies whole-record last-write-wins. The remote version wins only
// when it is strictly newer; ties keep the local copy.
func Resolve(localUpdatedAt, remoteUpdatedAt time.Time) Resolution {
	if remoteUpdatedAt.After(localUpdatedAt) {
		return TakeRemote
	}
	return KeepLocal
}
