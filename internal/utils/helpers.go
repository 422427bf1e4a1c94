package utils

import (
	"strconv"
	"strings"
)

// ParseDeviceID parses the device id from the last topic segment
func ParseDeviceID(topic string) (int, bool) {
	i := strings.LastIndexByte(topic, '/')
	if i < 0 || i == len(topic)-1 {
		return 0, false
	}
	id, err := strconv.Atoi(topic[i+1:])
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// NormalizeMAC upper-cases a MAC address and trims surrounding whitespace
func NormalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}

// CompactMAC strips the separators from a MAC address, as devices do when
// building their registration response topic
func CompactMAC(mac string) string {
	return strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(mac))
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BoolPtr returns a pointer to v
func BoolPtr(v bool) *bool { return &v }
