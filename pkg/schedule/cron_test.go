package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKnownCron(t *testing.T) {
	for _, expr := range []string{
		"* * * * *", "*/5 * * * *", "*/15 * * * *", "*/30 * * * *",
		"0 * * * *", "0 */6 * * *", "0 0 * * *",
	} {
		assert.True(t, KnownCron(expr), expr)
	}
	for _, expr := range []string{"", "@hourly", "*/7 * * * *", "0 0 * * 1", "* * * * * *"} {
		assert.False(t, KnownCron(expr), expr)
	}
}

func TestNextAfter(t *testing.T) {
	from := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 14, 15, 10, 0, 0, time.UTC)},
		{"*/5 * * * *", time.Date(2026, 3, 14, 15, 10, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 14, 15, 15, 0, 0, time.UTC)},
		{"*/30 * * * *", time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)},
		{"0 * * * *", time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)},
		{"0 */6 * * *", time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)},
		{"0 0 * * *", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"every once in a while", time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextAfter(tt.expr, from), tt.expr)
	}
}

func TestNextAfterAdvancesFromBoundary(t *testing.T) {
	boundary := time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC), nextAfter("0 * * * *", boundary))
	assert.Equal(t, time.Date(2026, 3, 14, 16, 1, 0, 0, time.UTC), nextAfter("* * * * *", boundary))
}
