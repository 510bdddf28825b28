package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeTypedFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Frame
	}{
		{"output", `{"type":"output","data":"hello"}`, Frame{Type: TypeOutput, Data: "hello"}},
		{"history", `{"type":"history","data":"old"}`, Frame{Type: TypeHistory, Data: "old"}},
		{"session_id", `{"type":"session_id","session_id":"abc"}`, Frame{Type: TypeSessionID, SessionID: "abc"}},
		{"session_not_found", `{"type":"session_not_found"}`, Frame{Type: TypeSessionNotFound}},
		{"error", `{"type":"error","data":"boom"}`, Frame{Type: TypeError, Data: "boom"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode([]byte(tt.raw))
			if got.Type != tt.want.Type || got.Data != tt.want.Data || got.SessionID != tt.want.SessionID {
				t.Errorf("Decode(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDecodeMalformedFallsBackToOutput(t *testing.T) {
	tests := []string{
		"plain terminal bytes",
		"{broken json",
		`{"no_type_field":true}`,
		"",
	}
	for _, raw := range tests {
		got := Decode([]byte(raw))
		if got.Type != TypeOutput {
			t.Errorf("Decode(%q).Type = %q, want output", raw, got.Type)
		}
		if got.Data != raw {
			t.Errorf("Decode(%q).Data = %q, want raw text", raw, got.Data)
		}
	}
}

func TestExitCodeVariants(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"type":"exit","code":0}`, "0"},
		{`{"type":"exit","code":137}`, "137"},
		{`{"type":"exit","code":"SIGKILL"}`, "SIGKILL"},
		{`{"type":"exit"}`, "?"},
	}
	for _, tt := range tests {
		f := Decode([]byte(tt.raw))
		if got := f.ExitCode(); got != tt.want {
			t.Errorf("ExitCode for %q = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestEncodeInputRoundTrip(t *testing.T) {
	raw := EncodeInput("git status\r")
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != TypeInput || f.Data != "git status\r" {
		t.Errorf("got %+v", f)
	}
}

func TestEncodeResizeIncludesZeroRows(t *testing.T) {
	// Resize frames always carry both fields, even when zero, so the
	// server does not have to guess at omitted dimensions.
	raw := EncodeResize(80, 0)
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["rows"]; !ok {
		t.Error("rows field missing from resize frame")
	}
	if m["cols"].(float64) != 80 {
		t.Errorf("cols = %v, want 80", m["cols"])
	}
}
