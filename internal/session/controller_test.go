package session

import (
	"testing"

	"github.com/felixgeelhaar/statekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdftools/backend/internal/models"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController()
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func assertOneVisible(t *testing.T, c *Controller, want models.Phase) {
	t.Helper()
	assert.Equal(t, []models.Phase{want}, c.Visible())
	assert.Equal(t, want, c.Phase())
}

func TestController_StartsInUpload(t *testing.T) {
	c := newTestController(t)
	assertOneVisible(t, c, models.PhaseUpload)
	assert.False(t, c.ScrollToTop())
	assert.Len(t, c.Sections(), len(models.AllPhases))
}

func TestController_Paths(t *testing.T) {
	tests := []struct {
		name   string
		events []statekit.EventType
		want   models.Phase
		scroll bool
	}{
		{"accept", []statekit.EventType{EventAccept}, models.PhasePreview, false},
		{"cancel", []statekit.EventType{EventAccept, EventCancel}, models.PhaseUpload, false},
		{"compress", []statekit.EventType{EventAccept, EventCompress}, models.PhaseProcessing, false},
		{"succeed", []statekit.EventType{EventAccept, EventCompress, EventSucceed}, models.PhaseResults, true},
		{"fail", []statekit.EventType{EventAccept, EventCompress, EventFail}, models.PhaseError, true},
		{"compress another", []statekit.EventType{EventAccept, EventCompress, EventSucceed, EventReset}, models.PhaseUpload, false},
		{"retry", []statekit.EventType{EventAccept, EventCompress, EventFail, EventReset}, models.PhaseUpload, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t)
			for _, ev := range tt.events {
				_, err := c.Send(ev)
				require.NoError(t, err)
				require.Len(t, c.Visible(), 1)
			}
			assertOneVisible(t, c, tt.want)
			assert.Equal(t, tt.scroll, c.ScrollToTop())
		})
	}
}

func TestController_RejectsInvalidEvents(t *testing.T) {
	c := newTestController(t)

	for _, ev := range []statekit.EventType{EventCompress, EventCancel, EventSucceed, EventFail, EventReset} {
		phase, err := c.Send(ev)
		assert.ErrorIs(t, err, ErrInvalidTransition, "event %s", ev)
		assert.Equal(t, models.PhaseUpload, phase)
	}
	assertOneVisible(t, c, models.PhaseUpload)

	_, err := c.Send(EventAccept)
	require.NoError(t, err)
	_, err = c.Send(EventCompress)
	require.NoError(t, err)

	// a second compress while processing is refused
	assert.False(t, c.Can(EventCompress))
	_, err = c.Send(EventCompress)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assertOneVisible(t, c, models.PhaseProcessing)
}

func TestController_EveryStateHasExactlyOneVisibleSection(t *testing.T) {
	events := []statekit.EventType{EventAccept, EventCompress, EventCancel, EventSucceed, EventFail, EventReset}
	c := newTestController(t)

	// walk a fixed pseudo-random event sequence, valid or not
	seq := []int{0, 2, 1, 4, 5, 0, 1, 3, 5, 3, 0, 0, 1, 1, 4, 2, 5, 0, 2}
	for _, i := range seq {
		_, _ = c.Send(events[i])
		require.Len(t, c.Visible(), 1)
	}
}
