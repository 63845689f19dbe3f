package quest

import (
	"regexp"
	"strconv"
)

var durationPattern = regexp.MustCompile(`^(?:(\d+)y)?(?:(\d+)mo)?(?:(\d+)w)?(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// seconds per unit, in pattern group order: y, mo, w, d, h, m, s.
var durationUnits = [...]int64{31536000, 2592000, 604800, 86400, 3600, 60, 1}

// ParseDuration converts text such as "1d12h" or "90s" into seconds.
// It returns 0 for text that does not match or sums to zero.
func ParseDuration(text string) int64 {
	m := durationPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	var total int64
	for i, unit := range durationUnits {
		part := m[i+1]
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0
		}
		total += n * unit
	}
	if total < 0 {
		return 0
	}
	return total
}
