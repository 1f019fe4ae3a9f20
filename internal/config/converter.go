package config

import (
	"fmt"

	"github.com/srg/blecollector/internal/decode"
)

// ConverterSpec decodes one of the tagged converter forms from YAML:
//
//	converter:
//	  utf8: {}
//	  signed: {l: 2, m: 1, d: -2, b: 0}
//	  unsigned: {l: 2, m: 1, d: 0, b: -6}
//	  f32: {}
//	  f64: {}
func (c *ConverterSpec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw map[string]struct {
		L int   `yaml:"l"`
		M int64 `yaml:"m"`
		D int   `yaml:"d"`
		B int   `yaml:"b"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("converter must have exactly one of utf8|signed|unsigned|f32|f64, got %d keys", len(raw))
	}
	for k, v := range raw {
		c.Set = true
		switch k {
		case "utf8":
			c.Converter = decode.Utf8Converter()
		case "signed":
			if v.L < 1 || v.L > 8 {
				return fmt.Errorf("signed converter octet length l=%d out of range 1..8", v.L)
			}
			c.Converter = decode.SignedConverter(v.L, v.M, v.D, v.B)
		case "unsigned":
			if v.L < 1 || v.L > 8 {
				return fmt.Errorf("unsigned converter octet length l=%d out of range 1..8", v.L)
			}
			c.Converter = decode.UnsignedConverter(v.L, v.M, v.D, v.B)
		case "f32":
			c.Converter = decode.F32Converter()
		case "f64":
			c.Converter = decode.F64Converter()
		default:
			return fmt.Errorf("unknown converter tag %q", k)
		}
		return nil
	}
	return nil
}

// ConverterSpec wraps decode.Converter so it can carry a YAML unmarshaller
// without decode itself depending on YAML. Set distinguishes an explicitly
// configured Utf8 converter (whose zero value is indistinguishable from
// decode.Converter{}) from one never configured at all.
type ConverterSpec struct {
	Converter decode.Converter
	Set       bool
}
