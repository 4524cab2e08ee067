package council

import (
	"encoding/json"
	"fmt"
)

// EventType identifies stream event variants.
type EventType string

const (
	EventStageStart       EventType = "stage_start"
	EventStageComplete    EventType = "stage_complete"
	EventStageMemberDelta EventType = "stage_member_delta"
	EventSpeakerDelta     EventType = "speaker_delta"
	EventSpeakerComplete  EventType = "speaker_complete"
	EventTitleComplete    EventType = "title_complete"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
	EventCancelled        EventType = "cancelled"
)

// Known reports whether the type is one of the documented event kinds.
// Unrecognized kinds decode fine and must reduce to a no-op.
func (t EventType) Known() bool {
	switch t {
	case EventStageStart, EventStageComplete, EventStageMemberDelta,
		EventSpeakerDelta, EventSpeakerComplete, EventTitleComplete,
		EventComplete, EventError, EventCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the type ends the stream.
func (t EventType) Terminal() bool {
	switch t {
	case EventComplete, EventError, EventCancelled:
		return true
	default:
		return false
	}
}

// Event is one decoded server-sent event. Which fields are populated
// depends on Type; the zero value of the rest is ignored.
type Event struct {
	Type EventType `json:"type"`

	// stage_start / stage_complete
	Stage *Stage `json:"stage,omitempty"`

	// stage_member_delta
	StageIndex  *int      `json:"index,omitempty"`
	StageID     string    `json:"id,omitempty"`
	Member      string    `json:"member,omitempty"`
	MemberIndex *int      `json:"member_index,omitempty"`
	Kind        StageKind `json:"kind,omitempty"`
	Delta       string    `json:"delta,omitempty"`

	// speaker_complete
	Model    string `json:"model,omitempty"`
	Response string `json:"response,omitempty"`
	Failed   bool   `json:"error,omitempty"`

	// title_complete
	Title string `json:"title,omitempty"`

	// complete
	RemainingMessages *int `json:"remaining_messages,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// ParseEvent decodes one wire frame into an Event.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode stream event: %w", err)
	}
	return ev, nil
}

// MemberDelta is the stage_member_delta payload extracted from an Event.
type MemberDelta struct {
	StageIndex  *int
	StageID     string
	Member      string
	MemberIndex int
	Kind        StageKind
	Delta       string
}

// AsMemberDelta projects the event into a MemberDelta. A missing
// member_index defaults to slot 0, matching the producer's contract for
// single-member stages.
func (e Event) AsMemberDelta() MemberDelta {
	memberIndex := 0
	if e.MemberIndex != nil && *e.MemberIndex >= 0 {
		memberIndex = *e.MemberIndex
	}
	return MemberDelta{
		StageIndex:  e.StageIndex,
		StageID:     e.StageID,
		Member:      e.Member,
		MemberIndex: memberIndex,
		Kind:        e.Kind,
		Delta:       e.Delta,
	}
}
