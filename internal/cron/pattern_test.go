package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePatternValid(t *testing.T) {
	p, err := ParsePattern("*/1 * * * *")
	require.NoError(t, err)
	require.True(t, p.minute[0])
	require.True(t, p.minute[59])
}

func TestParsePatternRejectsStepZero(t *testing.T) {
	_, err := ParsePattern("*/0 * * * *")
	require.Error(t, err)
}

func TestParsePatternRejectsWrongFieldCount(t *testing.T) {
	_, err := ParsePattern("* * * *")
	require.Error(t, err)
}

func TestParsePatternWeekdaySevenFoldsToZero(t *testing.T) {
	p, err := ParsePattern("0 0 * * 7")
	require.NoError(t, err)
	require.True(t, p.weekday[0])
	require.False(t, p.weekday[7])
}

func TestPatternNextAdvancesByOneMinute(t *testing.T) {
	p, err := ParsePattern("*/1 * * * *")
	require.NoError(t, err)
	base := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	next, ok := p.Next(base)
	require.True(t, ok)
	require.Equal(t, base.Add(time.Minute), next)
}

func TestPatternNextReportsNoMatchForImpossibleCalendarDate(t *testing.T) {
	p, err := ParsePattern("0 0 30 2 *")
	require.NoError(t, err)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, ok := p.Next(base)
	require.False(t, ok)
}

func TestPatternMatchesOrsDayOfMonthAndWeekdayWhenBothRestricted(t *testing.T) {
	// "the 1st of the month, or any Monday" — standard cron ORs
	// day-of-month and day-of-week when both are restricted.
	p, err := ParsePattern("0 0 1 * 1")
	require.NoError(t, err)

	firstOfMonth := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) // a Sunday
	require.True(t, p.Matches(firstOfMonth))

	aMonday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	require.True(t, p.Matches(aMonday))

	neither := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) // a Tuesday, not the 1st
	require.False(t, p.Matches(neither))
}

func TestPatternMatchesUsesSingleFieldWhenOnlyOneRestricted(t *testing.T) {
	p, err := ParsePattern("0 0 1 * *")
	require.NoError(t, err)

	firstOfMonth := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.True(t, p.Matches(firstOfMonth))

	secondOfMonth := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.False(t, p.Matches(secondOfMonth))
}

func TestPatternRangeAndList(t *testing.T) {
	p, err := ParsePattern("0,30 9-17 * * 1-5")
	require.NoError(t, err)
	require.True(t, p.minute[0])
	require.True(t, p.minute[30])
	require.False(t, p.minute[15])
	require.True(t, p.hour[9])
	require.True(t, p.hour[17])
	require.False(t, p.hour[18])
}
