package schedule

import "fmt"

// NotFoundError reports a missing schedule row.
type NotFoundError struct {
	ScheduleID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("schedule not found: %d", e.ScheduleID)
}

// ValidationError reports a rejected CreateSchedule payload.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
