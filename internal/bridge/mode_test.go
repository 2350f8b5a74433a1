package bridge

import (
	"errors"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		raw     string
		want    Mode
		wantErr bool
	}{
		{"type", ModeType, false},
		{"command", ModeCommand, false},
		{"both", ModeBoth, false},
		{"", "", true},
		{"bogus", "", true},
		{"TYPE", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseMode(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMode) {
					t.Fatalf("ParseMode(%q) error = %v, want ErrInvalidMode", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMode(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeMode(t *testing.T) {
	for raw, want := range map[string]Mode{
		"type":    ModeType,
		"command": ModeCommand,
		"both":    ModeBoth,
		"bogus":   ModeBoth,
		"":        ModeBoth,
	} {
		if got := NormalizeMode(raw); got != want {
			t.Errorf("NormalizeMode(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestModeAccepts(t *testing.T) {
	modes := []Mode{ModeType, ModeCommand, ModeBoth}
	filters := []Mode{FilterAll, ModeCommand, ModeType}
	for _, m := range modes {
		for _, f := range filters {
			want := f == FilterAll || m == f || m == ModeBoth
			if got := m.Accepts(f); got != want {
				t.Errorf("%s.Accepts(%s) = %v, want %v", m, f, got, want)
			}
		}
	}
}
