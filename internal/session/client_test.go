package session

import (
	"bytes"
	"testing"
)

func TestScanDetach(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		forward []byte
		detach  bool
	}{
		{"plain input", []byte("echo hi\n"), []byte("echo hi\n"), false},
		{"detach alone", []byte{DetachByte}, nil, true},
		{"detach mid-buffer", []byte{'a', 'b', DetachByte, 'c'}, nil, true},
		{"detach at end", append([]byte("exit"), DetachByte), nil, true},
		{"empty", []byte{}, []byte{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forward, detach := scanDetach(tt.in)
			if detach != tt.detach {
				t.Errorf("detach = %v, want %v", detach, tt.detach)
			}
			if !bytes.Equal(forward, tt.forward) {
				t.Errorf("forward = %q, want %q", forward, tt.forward)
			}
			// The detach byte itself must never be forwarded.
			if bytes.IndexByte(forward, DetachByte) >= 0 {
				t.Error("detach byte leaked into forwarded data")
			}
		})
	}
}

func TestTerminalSizeFallback(t *testing.T) {
	// An fd that is not a terminal falls back to 80x24.
	cols, rows := terminalSize(-1)
	if cols != 80 || rows != 24 {
		t.Errorf("got %dx%d, want 80x24", cols, rows)
	}
}
