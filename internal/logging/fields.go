package logging

import "log/slog"

// Common field names for consistent logging across the pipeline.
const (
	FieldService    = "service"
	FieldStep       = "step"
	FieldTeamID     = "team_id"
	FieldDistinctID = "distinct_id"
	FieldEvent      = "event"
	FieldEventUUID  = "event_uuid"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldSubject    = "subject"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Step returns a slog attribute for the pipeline step name.
func Step(name string) slog.Attr {
	return slog.String(FieldStep, name)
}

// TeamID returns a slog attribute for the team identifier.
func TeamID(id int64) slog.Attr {
	return slog.Int64(FieldTeamID, id)
}

// DistinctID returns a slog attribute for the event's distinct id.
func DistinctID(id string) slog.Attr {
	return slog.String(FieldDistinctID, id)
}

// Event returns a slog attribute for the event name.
func Event(name string) slog.Attr {
	return slog.String(FieldEvent, name)
}

// EventUUID returns a slog attribute for the event's uuid.
func EventUUID(id string) slog.Attr {
	return slog.String(FieldEventUUID, id)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
