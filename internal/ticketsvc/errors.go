package ticketsvc

import "fmt"

// NotFoundError reports that a ticket id had no matching row.
type NotFoundError struct {
	TicketID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("ticket not found: %s", e.TicketID) }

// ValidationError reports a request that fails the service's own input
// bounds, mirroring the original's pydantic Field constraints.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// TransitionError reports that no transition matched the requested move.
type TransitionError struct {
	Reason string
}

func (e *TransitionError) Error() string { return e.Reason }
