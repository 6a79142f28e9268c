package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidBool is returned for metadata flags outside the accepted token set.
var ErrInvalidBool = errors.New("invalid boolean")

// ParseBool parses loosely typed snapshot metadata flags. Accepted tokens are
// true/false, yes/no and 1/0, case-insensitive, surrounding space ignored.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidBool, raw)
}

// FlagOr parses userdata[key] with ParseBool, returning def when the key is absent.
func FlagOr(userdata map[string]string, key string, def bool) (bool, error) {
	raw, ok := userdata[key]
	if !ok {
		return def, nil
	}
	return ParseBool(raw)
}
