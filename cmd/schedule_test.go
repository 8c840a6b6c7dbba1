package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewScheduler_InvalidExpression(t *testing.T) {
	_, _, err := newScheduler("every tuesday", func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron")
}

func TestNewScheduler_NextRun(t *testing.T) {
	c, next, err := newScheduler("0 9 * * 1-5", func() {})
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Len(t, c.Entries(), 1)

	assert.True(t, next.After(time.Now()))
	assert.Equal(t, 9, next.Hour())
	assert.Zero(t, next.Minute())
	assert.NotEqual(t, time.Saturday, next.Weekday())
	assert.NotEqual(t, time.Sunday, next.Weekday())
}

func TestNewScheduler_Descriptor(t *testing.T) {
	_, next, err := newScheduler("@every 1h", func() {})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, 2*time.Second)
}

func TestCronLogger_RoutesToZap(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := cronLogger{log: zap.New(core).Sugar()}

	l.Info("skip", "now", "later")
	l.Error(errors.New("boom"), "panic", "job", 1)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "skip", entries[0].Message)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, "panic", entries[1].Message)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}
