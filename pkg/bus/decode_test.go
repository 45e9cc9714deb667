package bus

import (
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

type telemetryMsg struct {
	DiskPct float64 `cbor:"disk_pct" json:"disk_pct"`
	CPUPct  float64 `cbor:"cpu_pct" json:"cpu_pct"`
}

func TestDecodeTypedStage(t *testing.T) {
	d := NewDecoder()
	d.RegisterType("system-telemetry/metrics", func() any { return &telemetryMsg{} })

	payload, err := cbor.Marshal(telemetryMsg{DiskPct: 93, CPUPct: 12})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got := d.Decode("roost/local/m1/system-telemetry/metrics", payload)
	if got.Kind != KindTyped {
		t.Fatalf("Kind = %q, want %q", got.Kind, KindTyped)
	}
	msg, ok := got.Value.(*telemetryMsg)
	if !ok {
		t.Fatalf("Value type = %T, want *telemetryMsg", got.Value)
	}
	if msg.DiskPct != 93 {
		t.Errorf("DiskPct = %v, want 93", msg.DiskPct)
	}
}

func TestDecodeFallbackChain(t *testing.T) {
	d := NewDecoder()

	tests := []struct {
		name    string
		payload []byte
		want    DecodeKind
	}{
		{"json object", []byte(`{"disk_pct": 93}`), KindJSON},
		{"json array", []byte(`[1, 2, 3]`), KindJSON},
		{"plain text", []byte("all systems nominal"), KindText},
		{"binary", []byte{0x00, 0x01, 0xff, 0xfe}, KindOpaque},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Decode("roost/local/m1/some/topic", tt.payload)
			if got.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.want)
			}
		})
	}
}

func TestRegisterHintsEnablesTypedStage(t *testing.T) {
	d := NewDecoder()
	d.RegisterHints(map[string]string{
		"telemetry/battery": "BatteryState",
		"telemetry/raw":     "",
	})

	payload, err := cbor.Marshal(map[string]any{"voltage": 12.4})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := d.Decode("roost/local/m1/telemetry/battery", payload)
	if got.Kind != KindTyped {
		t.Fatalf("Kind = %q, want %q", got.Kind, KindTyped)
	}
	if !strings.Contains(got.String(), "voltage") {
		t.Errorf("String() = %q, want the decoded fields", got.String())
	}

	// An empty hint registers nothing; those samples use the generic stages.
	if got := d.Decode("roost/local/m1/telemetry/raw", []byte(`{"a": 1}`)); got.Kind != KindJSON {
		t.Errorf("Kind = %q, want %q", got.Kind, KindJSON)
	}
}

// A registered type whose payload is not CBOR must degrade, not error.
func TestDecodeTypedFallsThrough(t *testing.T) {
	d := NewDecoder()
	d.RegisterType("metrics", func() any { return &telemetryMsg{} })

	got := d.Decode("roost/local/m1/metrics", []byte(`{"disk_pct": 50}`))
	if got.Kind != KindJSON {
		t.Errorf("Kind = %q, want %q", got.Kind, KindJSON)
	}
}

func TestDecodeOpaqueMarkerHasByteCount(t *testing.T) {
	d := NewDecoder()
	got := d.Decode("k", []byte{0x00, 0x01, 0x02})
	if got.String() != "<binary data, 3 bytes>" {
		t.Errorf("String() = %q", got.String())
	}
}
