// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package protocol

import (
	"fmt"

	"github.com/samber/oops"

	"github.com/wsrelay/wsrelay/pkg/errutil"
)

// Failure is how an error is reported to a client.
type Failure struct {
	Code    int
	Message string
	// Fatal failures close the connection after the error frame.
	Fatal bool
}

// Pusher error codes.
const (
	CodeGeneric          = 4000
	CodeUnknownAppKey    = 4001
	CodeUnauthorized     = 4009
	CodeOverCapacity     = 4100
	CodeInternal         = 4200
	CodeClientRateLimits = 4301
)

// Classify maps a coded error to the frame sent to the client. Uncoded
// errors become a non-fatal internal error.
func Classify(err error) Failure {
	switch errutil.Code(err) {
	case "UNKNOWN_APP_KEY":
		return Failure{
			Code:    CodeUnknownAppKey,
			Message: fmt.Sprintf("Could not find app key `%v`.", contextValue(err, "app_key")),
			Fatal:   true,
		}
	case "ORIGIN_NOT_ALLOWED":
		return Failure{Code: CodeUnauthorized, Message: "Origin not allowed", Fatal: true}
	case "OVER_CAPACITY":
		return Failure{Code: CodeOverCapacity, Message: "Over capacity", Fatal: true}
	case "MALFORMED_MESSAGE":
		return Failure{Code: CodeGeneric, Message: "Invalid message format"}
	case "INVALID_CHANNEL":
		return Failure{Code: CodeGeneric, Message: "Invalid channel name"}
	case "PRESENCE_MEMBER_REQUIRED":
		return Failure{Code: CodeGeneric, Message: "Presence channel data requires a user_id"}
	case "SUBSCRIPTION_UNAUTHORIZED":
		return Failure{Code: CodeUnauthorized, Message: "Invalid Signature"}
	case "CLIENT_EVENT_RATE_LIMITED":
		return Failure{Code: CodeClientRateLimits, Message: "Client event rate limit exceeded"}
	default:
		return Failure{Code: CodeInternal, Message: "Internal server error"}
	}
}

func contextValue(err error, key string) any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	return oopsErr.Context()[key]
}
