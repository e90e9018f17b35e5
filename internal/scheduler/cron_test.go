package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCron_AcceptsFiveAndSixFields(t *testing.T) {
	five, err := ParseCron("*/30 * * * *")
	require.NoError(t, err)
	require.NotNil(t, five)

	six, err := ParseCron("0 */30 * * * *")
	require.NoError(t, err)
	require.NotNil(t, six)
}

func TestParseCron_Macros(t *testing.T) {
	expr, err := ParseCron("@hourly")
	require.NoError(t, err)

	from := time.Date(2026, 7, 30, 10, 15, 0, 0, time.UTC)
	next := expr.Next(from)
	require.Equal(t, time.Date(2026, 7, 30, 11, 0, 0, 0, time.UTC), next)
}

func TestParseCron_RejectsBadFieldCount(t *testing.T) {
	_, err := ParseCron("* * *")
	require.Error(t, err)
}

func TestCronExpr_Next_SecondGranularity(t *testing.T) {
	expr, err := ParseCron("*/30 * * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 7, 30, 10, 0, 10, 0, time.UTC)
	next := expr.Next(from)
	require.Equal(t, time.Date(2026, 7, 30, 10, 0, 30, 0, time.UTC), next)
}

func TestCronExpr_OccurrencesThrough_BoundedByLimit(t *testing.T) {
	expr, err := ParseCron("*/30 * * * * *")
	require.NoError(t, err)

	after := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	through := time.Date(2026, 7, 30, 10, 5, 0, 0, time.UTC)

	occurrences := expr.OccurrencesThrough(after, through, 3)
	require.Len(t, occurrences, 3)
	require.Equal(t, time.Date(2026, 7, 30, 10, 0, 30, 0, time.UTC), occurrences[0])
	require.Equal(t, time.Date(2026, 7, 30, 10, 1, 0, 0, time.UTC), occurrences[1])
	require.Equal(t, time.Date(2026, 7, 30, 10, 1, 30, 0, time.UTC), occurrences[2])
}

func TestCronExpr_OccurrencesThrough_StopsAtThrough(t *testing.T) {
	expr, err := ParseCron("0 0 * * * *")
	require.NoError(t, err)

	after := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	through := time.Date(2026, 7, 30, 12, 30, 0, 0, time.UTC)

	occurrences := expr.OccurrencesThrough(after, through, 100)
	require.Len(t, occurrences, 2)
	require.Equal(t, time.Date(2026, 7, 30, 11, 0, 0, 0, time.UTC), occurrences[0])
	require.Equal(t, time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC), occurrences[1])
}
