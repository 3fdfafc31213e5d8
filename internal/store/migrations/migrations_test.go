package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestVersion(t *testing.T) {
	v, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func TestStatus_Current(t *testing.T) {
	assert.True(t, Status{Version: 1, Latest: 1}.Current())
	assert.False(t, Status{Version: 1, Latest: 2}.Current())
	assert.False(t, Status{Version: 1, Dirty: true, Latest: 1}.Current())
}
