// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

// Package errutil holds helpers for working with coded oops errors.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. Coded oops errors contribute their code
// and context; extra attrs are appended as-is.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	fields := make([]any, 0, len(attrs)+6)
	if oopsErr, ok := oops.AsOops(err); ok {
		fields = append(fields, "error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil {
			fields = append(fields, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			fields = append(fields, "context", ctx)
		}
	} else {
		fields = append(fields, "error", err)
	}
	logger.Error(msg, append(fields, attrs...)...)
}

// Code returns the oops code carried by err, or nil for uncoded errors.
func Code(err error) any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Code()
}

// HasCode reports whether err is an oops error carrying code.
func HasCode(err error, code string) bool {
	c := Code(err)
	return c != nil && c == any(code)
}
