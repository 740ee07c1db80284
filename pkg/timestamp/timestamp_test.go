package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	ref := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ms := ref.UnixMilli()

	tests := []struct {
		name  string
		input any
		want  int64
	}{
		{"millis", ms, ms},
		{"seconds", ms / 1000, ms},
		{"int", int(ms), ms},
		{"numeric string", "1709294400000", ms},
		{"rfc3339", "2024-03-01T12:00:00Z", ms},
		{"bytes", []byte("1709294400"), ms},
		{"time", ref, ms},
		{"garbage", "yesterday", 0},
		{"empty", "", 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.input))
		})
	}
}

func TestSinceAt(t *testing.T) {
	now := time.UnixMilli(10_000)
	assert.Equal(t, 4*time.Second, SinceAt(6_000, now))
	assert.Equal(t, time.Duration(0), SinceAt(0, now))
}

func TestZeroHandling(t *testing.T) {
	assert.True(t, FromUnixMs(0).IsZero())
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.Equal(t, int64(7), Max(0, 7))
	assert.Equal(t, int64(9), Max(9, 7))
}
