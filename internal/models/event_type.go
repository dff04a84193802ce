package models

import (
	"fmt"
	"strings"
)

// EventType identifies the domain action that produced a sync entry
type EventType string

const (
	AttendanceCheckedIn  EventType = "attendance_checked_in"
	AttendanceCheckedOut EventType = "attendance_checked_out"
	MealLogged           EventType = "meal_logged"
	NapLogged            EventType = "nap_logged"
	PhotoUploaded        EventType = "photo_uploaded"
	IncidentReported     EventType = "incident_reported"
)

var knownEventTypes = []EventType{
	AttendanceCheckedIn,
	AttendanceCheckedOut,
	MealLogged,
	NapLogged,
	PhotoUploaded,
	IncidentReported,
}

// ParseEventType parses a string into a known EventType
// Returns an error if the event type is unknown
func ParseEventType(name string) (EventType, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	for _, eventType := range knownEventTypes {
		if string(eventType) == name {
			return eventType, nil
		}
	}

	return "", fmt.Errorf("unknown sync event type: %s", name)
}

// IsKnown reports whether the event type is one the platform raises today
func (t EventType) IsKnown() bool {
	_, err := ParseEventType(string(t))
	return err == nil
}
