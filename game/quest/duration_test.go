package quest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]int64{
		"60s":       60,
		"1m":        60,
		"5h30m10s":  5*3600 + 30*60 + 10,
		"1d":        86400,
		"2w":        2 * 604800,
		"1mo":       2592000,
		"1y":        31536000,
		"1y1mo1w1d": 31536000 + 2592000 + 604800 + 86400,
		"":          0,
		"0s":        0,
		"10":        0,
		"1s1m":      0,
		"abc":       0,
		"-5s":       0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseDuration(in), in)
	}
}
