// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsrelay/wsrelay/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("OVER_CAPACITY").
		With("app_id", "app-1").
		Errorf("over capacity")

	errutil.LogError(logger, "admission failed", err, "socket_id", "1.2")

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Equal(t, "admission failed", logEntry["msg"])
	assert.Equal(t, "OVER_CAPACITY", logEntry["code"])
	assert.Equal(t, "1.2", logEntry["socket_id"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Contains(t, logEntry["error"], "standard error")
	assert.NotContains(t, logEntry, "code")
}

func TestHasCode(t *testing.T) {
	coded := oops.Code("SOCKET_ID_IN_USE").Errorf("taken")

	assert.True(t, errutil.HasCode(coded, "SOCKET_ID_IN_USE"))
	assert.False(t, errutil.HasCode(coded, "OVER_CAPACITY"))
	assert.False(t, errutil.HasCode(errors.New("plain"), "SOCKET_ID_IN_USE"))
	assert.False(t, errutil.HasCode(nil, "SOCKET_ID_IN_USE"))
	assert.Nil(t, errutil.Code(errors.New("plain")))
}
