package taskcontrol

import "testing"

import "github.com/stretchr/testify/assert"

func TestSnapshotShouldStop(t *testing.T) {
	cases := []struct {
		name string
		snap Snapshot
		want bool
	}{
		{"missing task", Snapshot{TaskExists: false, TicketExists: true}, true},
		{"missing ticket", Snapshot{TaskExists: true, TicketExists: false}, true},
		{"cancel requested", Snapshot{TaskExists: true, TicketExists: true, CancelRequested: true}, true},
		{"ticket paused", Snapshot{TaskExists: true, TicketExists: true, TicketPaused: true}, true},
		{"approval pending", Snapshot{TaskExists: true, TicketExists: true, ApprovalPending: true}, true},
		{"all clear", Snapshot{TaskExists: true, TicketExists: true}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.snap.ShouldStop())
		})
	}
}
