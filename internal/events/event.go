package events

import (
	"errors"
	"fmt"
)

// Kind identifies a simulation event type.
type Kind string

const (
	KindActivityEnd   Kind = "actend"
	KindDeparture     Kind = "departure"
	KindActivityStart Kind = "actstart"
	KindEntersVehicle Kind = "entersvehicle"
	// KindIterationEnd marks the end of one simulation iteration in the stream.
	KindIterationEnd Kind = "iterationend"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindActivityEnd, KindDeparture, KindActivityStart, KindEntersVehicle, KindIterationEnd}

// Event is one record of the simulation event feed. Which fields are set
// depends on Kind.
type Event struct {
	Kind      Kind    `json:"type"`
	Person    string  `json:"person,omitempty"`
	ActType   string  `json:"actType,omitempty"`
	LegMode   string  `json:"legMode,omitempty"`
	Vehicle   string  `json:"vehicle,omitempty"`
	Time      float64 `json:"time,omitempty"`
	Iteration int     `json:"iteration,omitempty"`
}

var ErrUnknownKind = errors.New("unknown event type")

// Validate checks that the fields required by the event kind are present.
func (e Event) Validate() error {
	switch e.Kind {
	case KindActivityEnd, KindActivityStart:
		if e.Person == "" || e.ActType == "" {
			return fmt.Errorf("%s event needs person and actType", e.Kind)
		}
	case KindDeparture:
		if e.Person == "" || e.LegMode == "" {
			return fmt.Errorf("%s event needs person and legMode", e.Kind)
		}
	case KindEntersVehicle:
		if e.Person == "" || e.Vehicle == "" {
			return fmt.Errorf("%s event needs person and vehicle", e.Kind)
		}
	case KindIterationEnd:
		if e.Iteration < 0 {
			return fmt.Errorf("%s event has negative iteration %d", e.Kind, e.Iteration)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	return nil
}

// ActivityEnd, Departure, ActivityStart, EntersVehicle and IterationEnd build
// events of the matching kind.
func ActivityEnd(person, actType string, time float64) Event {
	return Event{Kind: KindActivityEnd, Person: person, ActType: actType, Time: time}
}

func Departure(person, legMode string, time float64) Event {
	return Event{Kind: KindDeparture, Person: person, LegMode: legMode, Time: time}
}

func ActivityStart(person, actType string, time float64) Event {
	return Event{Kind: KindActivityStart, Person: person, ActType: actType, Time: time}
}

func EntersVehicle(person, vehicle string, time float64) Event {
	return Event{Kind: KindEntersVehicle, Person: person, Vehicle: vehicle, Time: time}
}

func IterationEnd(iteration int) Event {
	return Event{Kind: KindIterationEnd, Iteration: iteration}
}
