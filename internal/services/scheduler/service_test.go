package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestService_TriggerRecordsResult(t *testing.T) {
	var calls int32
	svc := NewService(func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 2 {
			return errors.New("all accounts failed")
		}
		return nil
	}, arbor.NewLogger())

	assert.True(t, svc.Trigger())
	status := svc.Status()
	require.NotNil(t, status.LastRun)
	assert.Empty(t, status.LastError)
	assert.False(t, status.Running)

	assert.True(t, svc.Trigger())
	assert.Equal(t, "all accounts failed", svc.Status().LastError)
}

func TestService_SkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls int32

	svc := NewService(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		close(entered)
		<-release
		return nil
	}, arbor.NewLogger())

	done := make(chan bool)
	go func() { done <- svc.Trigger() }()
	<-entered

	assert.True(t, svc.Status().Running)
	assert.False(t, svc.Trigger())
	assert.Equal(t, 1, svc.Status().Skipped)

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestService_RecoversPanics(t *testing.T) {
	svc := NewService(func(ctx context.Context) error {
		panic("boom")
	}, arbor.NewLogger())

	assert.True(t, svc.Trigger())
	assert.Equal(t, "panic: boom", svc.Status().LastError)
}

func TestService_Start(t *testing.T) {
	svc := NewService(func(ctx context.Context) error { return nil }, arbor.NewLogger())

	assert.Error(t, svc.Start(context.Background(), "not a schedule"))
	assert.Error(t, svc.Start(context.Background(), "* * * * *"))

	require.NoError(t, svc.Start(context.Background(), "0 9 * * *"))
	defer svc.Stop()

	assert.Error(t, svc.Start(context.Background(), "0 9 * * *"))

	status := svc.Status()
	assert.Equal(t, "0 9 * * *", status.Schedule)
	require.NotNil(t, status.NextRun)
	assert.True(t, status.NextRun.After(time.Now()))
}
