package service_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/Trainer/internal/service"

	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     bool
	}{
		{"five fields", "*/15 * * * *", true},
		{"nightly", "0 2 * * 1-5", true},
		{"macro", "@hourly", true},
		{"every", "@every 5m", true},
		{"six fields", "0 */2 * * * *", false},
		{"four fields", "* * * *", false},
		{"out of range", "* * 32 * *", false},
		{"empty", "  ", false},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			err := service.ParseCron(tc.given)
			if tc.then {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestParseCueDuration(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     time.Duration
	}{
		{"seconds", "10s", 10 * time.Second},
		{"all", "1d2h3m4s", 24*time.Hour + 2*time.Hour + 3*time.Minute + 4*time.Second},
		{"hours and seconds", "2h30s", 2*time.Hour + 30*time.Second},
		{"zero", "0s", 0},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			d, err := service.ParseCueDuration(tc.given)
			require.NoError(t, err)
			require.Equal(t, tc.then, d)
		})
	}

	for _, bad := range []string{"", "1s2m", "5", "1w", "-1s", "99999999999999999999d"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := service.ParseCueDuration(bad)
			require.Error(t, err)
		})
	}
}
