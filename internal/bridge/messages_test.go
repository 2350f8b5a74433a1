package bridge

import (
	"errors"
	"testing"
)

func TestRequestedMode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		raw     string
		want    Mode
		wantErr bool
	}{
		{"missing defaults to both", `{"type":"mode_change"}`, "both", ModeBoth, false},
		{"valid", `{"type":"mode_change","mode":"type"}`, "type", ModeType, false},
		{"unknown string", `{"type":"mode_change","mode":"everything"}`, "everything", "", true},
		{"empty string", `{"type":"mode_change","mode":""}`, "", "", true},
		{"null", `{"type":"mode_change","mode":null}`, "null", "", true},
		{"number", `{"type":"mode_change","mode":5}`, "5", "", true},
		{"object", `{"type":"mode_change","mode":{"m":"type"}}`, `{"m":"type"}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeInbound([]byte(tt.frame))
			if err != nil {
				t.Fatalf("DecodeInbound: %v", err)
			}
			raw, mode, err := frame.RequestedMode()
			if tt.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidMode) {
				t.Errorf("err = %v, want ErrInvalidMode", err)
			}
			if raw != tt.raw {
				t.Errorf("raw = %q, want %q", raw, tt.raw)
			}
			if mode != tt.want {
				t.Errorf("mode = %q, want %q", mode, tt.want)
			}
		})
	}
}

func TestDecodeInboundToleratesMistypedFields(t *testing.T) {
	frame, err := DecodeInbound([]byte(`{"type":"ping","timestamp":"soon","mode":5}`))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if frame.Type != FramePing {
		t.Errorf("type = %q, want ping", frame.Type)
	}
	if string(frame.Timestamp) != `"soon"` {
		t.Errorf("timestamp = %s", frame.Timestamp)
	}
}
