// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package channel

import (
	"regexp"
	"strings"

	"github.com/samber/oops"
)

// MaxNameLength is the longest accepted channel name.
const MaxNameLength = 200

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_\-=@,.;]+$`)

// Kind classifies a channel by its name prefix.
type Kind int

// Channel kinds.
const (
	Public Kind = iota
	Private
	Presence
)

func (k Kind) String() string {
	switch k {
	case Private:
		return "private"
	case Presence:
		return "presence"
	default:
		return "public"
	}
}

// KindOf returns the kind implied by name. "private-encrypted-" channels are
// private.
func KindOf(name string) Kind {
	switch {
	case strings.HasPrefix(name, "presence-"):
		return Presence
	case strings.HasPrefix(name, "private-"):
		return Private
	default:
		return Public
	}
}

// RequiresAuth reports whether subscribing needs a signed token.
func (k Kind) RequiresAuth() bool {
	return k != Public
}

// ValidateName checks name against the allowed character set and length.
func ValidateName(name string) error {
	if name == "" {
		return oops.Code("INVALID_CHANNEL").Errorf("channel name is required")
	}
	if len(name) > MaxNameLength {
		return oops.Code("INVALID_CHANNEL").
			With("length", len(name)).
			Errorf("channel name longer than %d characters", MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return oops.Code("INVALID_CHANNEL").With("channel", name).Errorf("invalid channel name")
	}
	return nil
}
