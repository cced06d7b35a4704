package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func timeMustParse(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}
