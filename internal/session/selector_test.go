package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		want State
	}{
		{StateConnecting, EventConnectSucceeded, StateConnected},
		{StateConnecting, EventConnectFailed, StateDegraded},
		{StateConnecting, EventOffline, StateDegraded},
		{StateConnected, EventConnectionLost, StateDegraded},
		{StateConnected, EventOffline, StateDegraded},
		{StateConnected, EventConnectSucceeded, StateConnected},
		{StateDegraded, EventConnectFailed, StateDegraded},
		{StateDegraded, EventConnectSucceeded, StateConnected},
		{StateConnecting, EventLeave, StateClosed},
		{StateConnected, EventLeave, StateClosed},
		{StateDegraded, EventLeave, StateClosed},
		{StateClosed, EventConnectSucceeded, StateClosed},
		{StateClosed, EventConnectionLost, StateClosed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Transition(tc.from, tc.ev), "%s + %s", tc.from, tc.ev)
	}
}

func TestStateMode(t *testing.T) {
	assert.Equal(t, ModeMQTT, StateConnected.Mode())
	assert.Equal(t, ModePolling, StateDegraded.Mode())
	assert.Equal(t, ModeOffline, StateConnecting.Mode())
	assert.Equal(t, ModeOffline, StateClosed.Mode())
}
