package goble

import (
	"strings"

	"github.com/srg/blecollector/internal/provider"
)

// normalizeUUID lowercases and strips dashes so 16-bit, 32-bit, and
// 128-bit UUID spellings compare equal regardless of how go-ble or the
// configured peripheral spec wrote them.
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

type service struct {
	uuid  string
	chars []provider.Characteristic
}

func (s *service) UUID() string                            { return s.uuid }
func (s *service) Characteristics() []provider.Characteristic { return s.chars }
