package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuest_MarkArrived(t *testing.T) {
	now := time.Date(2025, 9, 15, 19, 0, 0, 0, time.UTC)
	g := NewGuest(GuestInput{FullName: "Ana Ruiz", Role: "Speaker"}, "tok", now)
	require.Equal(t, StateNotArrived, g.State)
	require.Nil(t, g.ArrivalTime)

	at := now.Add(time.Hour)
	require.True(t, g.MarkArrived(at, "Door-1"))
	assert.Equal(t, StateArrived, g.State)
	require.NotNil(t, g.ArrivalTime)
	assert.True(t, g.ArrivalTime.Equal(at))
	assert.Equal(t, "Door-1", g.CheckedInBy)

	assert.False(t, g.MarkArrived(at.Add(time.Minute), "Door-2"))
	assert.True(t, g.ArrivalTime.Equal(at))
	assert.Equal(t, "Door-1", g.CheckedInBy)
}

func TestGuest_ResetArrival(t *testing.T) {
	now := time.Now()
	g := NewGuest(GuestInput{FullName: "Ana Ruiz", Role: "Speaker"}, "tok", now)
	assert.False(t, g.ResetArrival("reset by admin", now))

	g.MarkArrived(now, "Door-1")
	require.True(t, g.ResetArrival("reset by admin", now))
	assert.Equal(t, StateNotArrived, g.State)
	assert.Nil(t, g.ArrivalTime)
	assert.Equal(t, "reset by admin", g.CheckedInBy)
}

func TestGuest_CheckedInByIsBounded(t *testing.T) {
	g := NewGuest(GuestInput{FullName: "Ana Ruiz", Role: "Speaker"}, "tok", time.Now())
	g.MarkArrived(time.Now(), strings.Repeat("é", 150))
	assert.Len(t, []rune(g.CheckedInBy), MaxCheckedInByLength)
}

func TestGuest_Clone(t *testing.T) {
	g := NewGuest(GuestInput{FullName: "Ana Ruiz", Role: "Speaker"}, "tok", time.Now())
	g.MarkArrived(time.Now(), "Door-1")

	cp := g.Clone()
	*cp.ArrivalTime = cp.ArrivalTime.Add(time.Hour)
	cp.FullName = "Other"

	assert.NotEqual(t, *g.ArrivalTime, *cp.ArrivalTime)
	assert.Equal(t, "Ana Ruiz", g.FullName)
}

func TestOperator_Can(t *testing.T) {
	scanner := NewOperator("door", nil, []Capability{CapabilityScan})
	admin := NewOperator("root", nil, []Capability{CapabilityAdmin})

	assert.True(t, scanner.Can(CapabilityScan))
	assert.False(t, scanner.Can(CapabilityRegister))
	assert.True(t, admin.Can(CapabilityRegister))
	assert.True(t, admin.Can(CapabilityScan))

	var nobody *Operator
	assert.False(t, nobody.Can(CapabilityScan))
}

func TestWatcher_EnqueueAfterClose(t *testing.T) {
	w := NewWatcher(uuid.Nil)
	assert.True(t, w.EnqueueEvent(FeedEvent{ID: "1"}))
	w.Close()
	w.Close()
	assert.False(t, w.EnqueueEvent(FeedEvent{ID: "2"}))
}
