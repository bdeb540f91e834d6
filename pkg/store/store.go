// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package store provides the durable local key-value persistence used
// by the progression engine. All reads and writes are synchronous; the
// engine's commit path relies on the local write completing before the
// call returns.
package store

import (
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("key not found")

// Store is the local persistence contract. Implementations must make
// Set durable before returning so that a committed snapshot survives a
// process crash.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set durably writes the value for key.
	Set(key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error

	// Close releases the underlying resources.
	Close() error
}
