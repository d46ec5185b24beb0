// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"codeberg.org/oliverandrich/otp-recovery/internal/models"
)

// ErrInvalidIdentifier is returned by ParseIdentifier.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")

// Identifier is a normalised email address or phone number.
type Identifier struct {
	Channel models.Channel
	Value   string
}

func (id Identifier) String() string {
	return id.Value
}

// ParseIdentifier normalises raw user input. Anything containing "@" is
// treated as an email address, everything else as a phone number.
func ParseIdentifier(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, ErrInvalidIdentifier
	}

	if strings.Contains(raw, "@") {
		addr, err := mail.ParseAddress(raw)
		if err != nil || addr.Address != raw {
			return Identifier{}, ErrInvalidIdentifier
		}
		return Identifier{Channel: models.ChannelEmail, Value: strings.ToLower(addr.Address)}, nil
	}

	phone := phoneSeparators.Replace(raw)
	if !phonePattern.MatchString(phone) {
		return Identifier{}, ErrInvalidIdentifier
	}
	return Identifier{Channel: models.ChannelSMS, Value: phone}, nil
}
