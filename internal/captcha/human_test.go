package captcha

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestHumanHandoffSolvedByNotification(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry := NewRegistry(zap.NewNop())
	handoff := NewHumanHandoff("m1", "s1", "https://live.example.com/s1", registry, 300*time.Second, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- handoff.Start(context.Background()) }()

	// The operator acknowledges early in the ceiling window.
	time.Sleep(10 * time.Millisecond)
	registry.Notify("m1", "s1", true)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handoff did not observe the notification")
	}

	entry, ok := registry.Get("m1")
	require.True(t, ok)
	assert.Equal(t, StatusSolved, entry.Status)
	assert.Equal(t, MethodHuman, entry.Method)
}

func TestHumanHandoffFailureNotification(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	handoff := NewHumanHandoff("m1", "s1", "", registry, 300*time.Second, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- handoff.Start(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	registry.Notify("m1", "s1", false)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handoff did not observe the notification")
	}

	entry, _ := registry.Get("m1")
	assert.Equal(t, StatusFailed, entry.Status)
}

func TestHumanHandoffWaitCeiling(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry := NewRegistry(zap.NewNop())
	handoff := NewHumanHandoff("m1", "s1", "", registry, 30*time.Millisecond, zap.NewNop())

	err := handoff.Start(context.Background())
	require.ErrorIs(t, err, ErrTimeout)

	entry, ok := registry.Get("m1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, entry.Status, "the strategy never leaves a dangling pending entry")
	assert.Equal(t, ReasonTimeout, entry.Reason)

	// A late notification is still accepted by the registry; the search path
	// that already gave up is not resurrected (Start has returned).
	late := registry.Notify("m1", "s1", true)
	assert.Equal(t, StatusSolved, late.Status)
}

func TestHumanHandoffAbandon(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry := NewRegistry(zap.NewNop())
	handoff := NewHumanHandoff("m1", "s1", "", registry, time.Hour, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- handoff.Start(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	handoff.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("handoff did not stop after Cancel")
	}

	_, ok := registry.Get("m1")
	assert.False(t, ok, "abandoning frees the registry slot")
}
