// Package fqcn defines the fully qualified characteristic name, the unique
// key of a collected data point: (adapter, peripheral, service, characteristic).
package fqcn

import "strings"

// FQCN identifies one GATT characteristic on one peripheral on one adapter.
type FQCN struct {
	Adapter       string
	Peripheral    string
	ServiceUUID   string
	CharacterUUID string
}

// String renders the FQCN as a stable, human-readable key suitable for map
// keys, log fields, and MQTT topic segments.
func (k FQCN) String() string {
	var b strings.Builder
	b.WriteString(k.Adapter)
	b.WriteByte('/')
	b.WriteString(k.Peripheral)
	b.WriteByte('/')
	b.WriteString(k.ServiceUUID)
	b.WriteByte('/')
	b.WriteString(k.CharacterUUID)
	return b.String()
}

// MarshalText renders the FQCN the same way String does, so it can be
// used as a JSON object key (encoding/json requires TextMarshaler for
// non-string map key types) when the HTTP layer serializes a samples
// snapshot keyed by FQCN.
func (k FQCN) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Clean replaces every non-alphanumeric rune with '_'. Used to expose a
// template-safe variant (clean_fqcn.*) for MQTT discovery payloads, where
// raw UUIDs and MAC addresses contain characters unsafe for identifiers.
func Clean(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b[i] = c
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

// CleanFQCN is the per-field cleaned variant of an FQCN, as exposed to
// templates under the `clean_fqcn.*` context name.
type CleanFQCN struct {
	Adapter       string
	Peripheral    string
	ServiceUUID   string
	CharacterUUID string
}

// CleanOf returns the cleaned variant of k.
func CleanOf(k FQCN) CleanFQCN {
	return CleanFQCN{
		Adapter:       Clean(k.Adapter),
		Peripheral:    Clean(k.Peripheral),
		ServiceUUID:   Clean(k.ServiceUUID),
		CharacterUUID: Clean(k.CharacterUUID),
	}
}
