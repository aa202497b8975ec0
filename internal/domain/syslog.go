package domain

import "time"

// SystemLog is a persisted operational event. Scheduler jobs and the fan-out
// engine record notable warnings and errors here for the dashboard.
type SystemLog struct {
	ID        int64
	Level     string
	Component string
	Message   string
	Detail    map[string]any
	CreatedAt time.Time
}
