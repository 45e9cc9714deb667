package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

// DecodeKind tags which stage of the fallback chain produced a decoded value.
type DecodeKind string

const (
	KindTyped  DecodeKind = "typed"  // CBOR decode against a registered type
	KindJSON   DecodeKind = "json"   // generic key/value decode
	KindText   DecodeKind = "text"   // plain UTF-8 text
	KindOpaque DecodeKind = "opaque" // byte-count placeholder
)

// Decoded is the tagged result of decoding one sample. Decoding never fails:
// the chain degrades down to an opaque byte-count marker so the cache stays
// useful on unknown wire formats.
type Decoded struct {
	Kind  DecodeKind
	Value any
}

// String renders the decoded value for prompts and logs.
func (d Decoded) String() string {
	switch v := d.Value.(type) {
	case string:
		return v
	default:
		b, err := json.Marshal(d.Value)
		if err != nil {
			return fmt.Sprintf("%v", d.Value)
		}
		return string(b)
	}
}

// Decoder attempts the fallback chain in a fixed order: a CBOR decode using
// the type registered for the topic suffix, then generic JSON, then UTF-8
// text, then the opaque marker.
type Decoder struct {
	types map[string]func() any // topic suffix -> prototype factory
}

// NewDecoder builds a decoder with no registered types; such a decoder still
// degrades through the generic stages.
func NewDecoder() *Decoder {
	return &Decoder{types: make(map[string]func() any)}
}

// RegisterType associates a topic suffix with a prototype factory. Samples on
// keys ending in suffix are first decoded as CBOR into a fresh prototype.
func (d *Decoder) RegisterType(suffix string, proto func() any) {
	d.types[suffix] = proto
}

// RegisterHints registers the configured topics mapping. Each non-empty hint
// names the producer's message type; without compiled bindings for that type
// the samples decode into a generic CBOR map, which is enough to render the
// fields in prompts. Embedders with concrete types use RegisterType instead.
func (d *Decoder) RegisterHints(hints map[string]string) {
	for suffix, hint := range hints {
		if hint == "" {
			continue
		}
		d.RegisterType(suffix, func() any { return &map[string]any{} })
	}
}

// Decode runs the chain for a sample delivered on key.
func (d *Decoder) Decode(key string, payload []byte) Decoded {
	// (a) structured decode against the registered type table.
	if proto := d.typeFor(key); proto != nil {
		v := proto()
		if err := cbor.Unmarshal(payload, v); err == nil {
			return Decoded{Kind: KindTyped, Value: v}
		}
	}

	// (b) generic key/value decode.
	var generic any
	if err := json.Unmarshal(payload, &generic); err == nil {
		return Decoded{Kind: KindJSON, Value: generic}
	}

	// (c) plain text, when the payload is text-safe.
	if utf8.Valid(payload) && !looksBinary(payload) {
		return Decoded{Kind: KindText, Value: string(payload)}
	}

	// (d) opaque placeholder. Never an error.
	return Decoded{Kind: KindOpaque, Value: fmt.Sprintf("<binary data, %d bytes>", len(payload))}
}

func (d *Decoder) typeFor(key string) func() any {
	for suffix, proto := range d.types {
		if strings.HasSuffix(key, suffix) {
			return proto
		}
	}
	return nil
}

// looksBinary reports whether a payload contains control bytes that make it
// unfit for prompt text.
func looksBinary(b []byte) bool {
	for _, c := range b {
		if c < 0x09 || (c > 0x0d && c < 0x20) {
			return true
		}
	}
	return false
}
