// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/samber/oops"

	"github.com/wsrelay/wsrelay/internal/tenant"
)

// Sign returns the lowercase hex HMAC-SHA256 of payload keyed by secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload)) //nolint:errcheck // hash writes never fail
	return hex.EncodeToString(mac.Sum(nil))
}

// ChannelSignature signs a subscription to a private or presence channel.
// channelData is only part of the payload for presence channels.
func ChannelSignature(secret, socketID, channel, channelData string) string {
	payload := socketID + ":" + channel
	if channelData != "" {
		payload += ":" + channelData
	}
	return Sign(secret, payload)
}

// ChannelToken returns the auth string a client presents when subscribing:
// "key:signature".
func ChannelToken(app *tenant.App, socketID, channel, channelData string) string {
	return app.Key + ":" + ChannelSignature(app.Secret, socketID, channel, channelData)
}

// ChannelVerifier checks channel subscription tokens.
type ChannelVerifier struct{}

// VerifyChannel checks that token authorizes socketID to join channel.
func (ChannelVerifier) VerifyChannel(app *tenant.App, socketID, channel, channelData, token string) error {
	errb := oops.Code("SUBSCRIPTION_UNAUTHORIZED").
		With("app_id", app.ID).
		With("socket_id", socketID).
		With("channel", channel)

	key, signature, ok := strings.Cut(token, ":")
	if !ok || key == "" || signature == "" {
		return errb.Errorf("malformed auth token")
	}
	if key != app.Key {
		return errb.Errorf("auth token key does not match app")
	}
	expected := ChannelSignature(app.Secret, socketID, channel, channelData)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return errb.Errorf("invalid signature")
	}
	return nil
}
