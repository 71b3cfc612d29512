// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package auth implements Pusher's HMAC-SHA256 signatures: channel
// subscription tokens for private and presence channels, and signed HTTP API
// requests.
package auth
