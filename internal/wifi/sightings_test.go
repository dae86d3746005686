package wifi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSightings_Observe(t *testing.T) {
	s := newSightings(10 * time.Minute)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entered, left := s.observe(t0, []string{"aa", "bb"})
	assert.Equal(t, []string{"aa", "bb"}, entered)
	assert.Empty(t, left)
	assert.Equal(t, 2, s.present())

	// Seen again: nothing new.
	entered, left = s.observe(t0.Add(time.Minute), []string{"aa"})
	assert.Empty(t, entered)
	assert.Empty(t, left)

	// bb last seen at t0, timeout reached exactly.
	entered, left = s.observe(t0.Add(10*time.Minute), []string{"aa", "cc"})
	assert.Equal(t, []string{"cc"}, entered)
	assert.Equal(t, []string{"bb"}, left)
	assert.Equal(t, 2, s.present())

	// bb returns and counts as a fresh arrival.
	entered, _ = s.observe(t0.Add(11*time.Minute), []string{"bb"})
	assert.Equal(t, []string{"bb"}, entered)
}

func TestSightings_NotYetTimedOut(t *testing.T) {
	s := newSightings(time.Minute)
	t0 := time.Unix(0, 0)

	s.observe(t0, []string{"aa"})
	_, left := s.observe(t0.Add(59*time.Second), nil)
	assert.Empty(t, left)

	_, left = s.observe(t0.Add(time.Minute), nil)
	assert.Equal(t, []string{"aa"}, left)
	assert.Zero(t, s.present())

	// Already forgotten: no second exit.
	_, left = s.observe(t0.Add(2*time.Minute), nil)
	assert.Empty(t, left)
}

func TestSightings_LeftIsSorted(t *testing.T) {
	s := newSightings(time.Second)
	t0 := time.Unix(0, 0)

	s.observe(t0, []string{"cc", "aa", "bb"})
	_, left := s.observe(t0.Add(time.Second), nil)
	assert.Equal(t, []string{"aa", "bb", "cc"}, left)
}
