// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package server

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// newConnID returns a ULID for log correlation.
func newConnID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

var socketIDMax = big.NewInt(1_000_000_000)

// randomPart returns a uniform integer in [1, 1e9].
func randomPart() int64 {
	n, err := rand.Int(rand.Reader, socketIDMax)
	if err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return n.Int64() + 1
}

// NewSocketID returns a Pusher socket id of the form "123.456".
func NewSocketID() string {
	return fmt.Sprintf("%d.%d", randomPart(), randomPart())
}
