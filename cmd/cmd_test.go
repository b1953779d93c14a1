// File: cmd/cmd_test.go
package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviatools/unipix-etl/internal/report"
)

func TestResolveRangeExplicitPeriod(t *testing.T) {
	rng, err := resolveRange("01/03/2024 - 31/03/2024")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T00:00:00.000Z", rng.StartISO)
	assert.Equal(t, "2024-03-31T23:59:59.000Z", rng.EndISO)
}

func TestResolveRangeDefaultsToCurrentMonth(t *testing.T) {
	rng, err := resolveRange("  ")
	require.NoError(t, err)
	assert.Equal(t, report.CurrentMonthRange(time.Now()), rng)
}

func TestResolveRangeRejectsGarbage(t *testing.T) {
	_, err := resolveRange("next week")
	assert.Error(t, err)
}
