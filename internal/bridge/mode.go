package bridge

import (
	"errors"
	"fmt"
)

// Mode is a client's delivery preference.
type Mode string

const (
	ModeType    Mode = "type"
	ModeCommand Mode = "command"
	ModeBoth    Mode = "both"
)

// FilterAll is the broadcast filter that matches every client.
const FilterAll Mode = ""

// ErrInvalidMode is returned by ParseMode for values outside type|command|both.
var ErrInvalidMode = errors.New("invalid mode")

// ParseMode validates a raw mode string. Matching is exact.
func ParseMode(raw string) (Mode, error) {
	mode := Mode(raw)
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
	return mode, nil
}

// NormalizeMode returns the mode for raw, falling back to ModeBoth when raw
// is empty or invalid.
func NormalizeMode(raw string) Mode {
	mode, err := ParseMode(raw)
	if err != nil {
		return ModeBoth
	}
	return mode
}

// Valid reports whether m is one of the three client modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeType, ModeCommand, ModeBoth:
		return true
	default:
		return false
	}
}

// Accepts reports whether a client in mode m receives a broadcast sent with
// filter. FilterAll reaches everyone; otherwise the client must be in the
// filtered mode or in ModeBoth.
func (m Mode) Accepts(filter Mode) bool {
	return filter == FilterAll || m == filter || m == ModeBoth
}

func (m Mode) String() string {
	if m == FilterAll {
		return "all"
	}
	return string(m)
}
