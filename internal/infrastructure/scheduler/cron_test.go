package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronExpressionRejectsMalformedInput(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"61 * * * *",
		"* 24 * * *",
		"*/0 * * * *",
		"a * * * *",
	} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, "expression %q", expr)
	}
}

func TestCronNextEveryFiveMinutes(t *testing.T) {
	expr, err := ParseCronExpression("*/5 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 3, 10, 12, 3, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC), expr.Next(from))

	// An exact match moves to the following slot, never fires twice.
	onSlot := time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 10, 0, 0, time.UTC), expr.Next(onSlot))
}

func TestCronNextNightlySweep(t *testing.T) {
	expr := MustParseCronExpression("0 3 * * *")

	from := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), expr.Next(from))

	beforeThree := time.Date(2026, 3, 10, 2, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC), expr.Next(beforeThree))
}

func TestCronNextHonorsWeekdayField(t *testing.T) {
	// Sundays at midnight. 2026-03-10 is a Tuesday.
	expr := MustParseCronExpression("0 0 * * 0")

	from := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	next := expr.Next(from)
	assert.Equal(t, time.Sunday, next.Weekday())
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), next)
}

func TestCronScheduleString(t *testing.T) {
	expr := MustParseCronExpression("*/10 * * * *")
	assert.Equal(t, "*/10 * * * *", expr.String())
}
