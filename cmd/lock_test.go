package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_SecondHolderRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outreach.lock")

	first, err := acquireLock(path)
	require.NoError(t, err)

	_, err = acquireLock(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))

	releaseLock(first)

	again, err := acquireLock(path)
	require.NoError(t, err)
	releaseLock(again)
}
