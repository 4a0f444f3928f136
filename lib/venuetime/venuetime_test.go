package venuetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsToVenueZone(t *testing.T) {
	z, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultZone, z.Location().String())

	_, err = Load("Not/AZone")
	require.Error(t, err)
}

func TestNow_IsInVenueZone(t *testing.T) {
	fixed := time.Date(2025, 9, 16, 1, 30, 0, 0, time.UTC)
	z := MustLoad("America/Mexico_City").WithClock(func() time.Time { return fixed })

	now := z.Now()
	assert.True(t, now.Equal(fixed))
	assert.Equal(t, z.Location(), now.Location())
	assert.Equal(t, 15, now.Day())
	assert.Equal(t, 19, now.Hour())
}

func TestNaiveRoundTrip(t *testing.T) {
	z := MustLoad("America/Mexico_City")
	aware := time.Date(2025, 9, 15, 21, 4, 5, 123000, time.UTC)

	naive := z.ToNaive(aware)
	assert.Equal(t, time.UTC, naive.Location())
	assert.Equal(t, 15, naive.Hour())

	back := z.FromNaive(naive)
	assert.True(t, back.Equal(aware), "got %s want %s", back, aware)

	parsed, err := z.ParseNaive(z.FormatNaive(aware))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(aware))
}

func TestLocal_PreservesInstant(t *testing.T) {
	z := MustLoad("America/Mexico_City")
	aware := time.Date(2025, 9, 15, 21, 4, 5, 0, time.FixedZone("CEST", 2*3600))

	local := z.Local(aware)
	assert.True(t, local.Equal(aware))
	assert.Equal(t, z.Location(), local.Location())
	assert.True(t, z.Local(time.Time{}).IsZero())
}

func TestFormat(t *testing.T) {
	z := MustLoad("America/Mexico_City")
	assert.Equal(t, NotRecorded, z.Format(nil))

	ts := time.Date(2025, 9, 16, 1, 2, 3, 0, time.UTC)
	assert.Equal(t, "15/09/2025 19:02:03", z.Format(&ts))
}
