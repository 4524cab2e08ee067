package council

// Effects describes the side work a reduced event asks the caller to
// perform. Reduce itself never touches the network, timers, or logs;
// it only maps one snapshot to the next.
type Effects struct {
	// RefreshList asks for a conversation-list refetch (titles, counts).
	RefreshList bool
	// RefreshInfo asks for a conversation-info refetch (quota counters).
	RefreshInfo bool
	// Terminal marks the end of the stream session.
	Terminal bool
	// ErrorMessage carries the producer-reported failure, if any.
	ErrorMessage string
	// Title is the generated conversation title, when one arrived.
	Title string
	// RemainingMessages mirrors the quota counter from a complete event.
	RemainingMessages *int
}

// Reduce applies one decoded event to a conversation snapshot and
// returns the next snapshot. It is pure: the input conversation is never
// mutated, and the same inputs always yield the same outputs, so an
// event list can be replayed deterministically.
//
// Stage and speaker events always target the last message, which must be
// an assistant placeholder; when it is not, the event is dropped. That
// state is unreachable in correct operation but must never corrupt the
// snapshot. Unknown event types are no-ops.
func Reduce(conv *Conversation, ev Event) (*Conversation, Effects) {
	switch ev.Type {
	case EventStageStart:
		return reduceStageUpsert(conv, ev, StageRunning)

	case EventStageComplete:
		return reduceStageUpsert(conv, ev, StageComplete)

	case EventStageMemberDelta:
		next, message, ok := cloneForAssistantTail(conv)
		if !ok {
			return conv, Effects{}
		}
		message.MessageType = MessageTypeCouncil
		message.Stages = ApplyMemberDelta(message.Stages, ev.AsMemberDelta())
		return next, Effects{}

	case EventSpeakerDelta:
		next, message, ok := cloneForAssistantTail(conv)
		if !ok {
			return conv, Effects{}
		}
		// Mode switch safety: a speaker answer replaces any stage view.
		message.MessageType = MessageTypeSpeaker
		message.Stages = nil
		message.Response += ev.Delta
		return next, Effects{}

	case EventSpeakerComplete:
		next, message, ok := cloneForAssistantTail(conv)
		if !ok {
			return conv, Effects{}
		}
		message.MessageType = MessageTypeSpeaker
		message.Stages = nil
		// The final payload is authoritative, not appended.
		message.Response = ev.Response
		message.Model = ev.Model
		message.Error = ev.Failed
		return next, Effects{}

	case EventTitleComplete:
		return conv, Effects{RefreshList: true, Title: ev.Title}

	case EventComplete:
		return conv, Effects{
			Terminal:          true,
			RefreshList:       true,
			RefreshInfo:       true,
			RemainingMessages: ev.RemainingMessages,
		}

	case EventError:
		// The message keeps its last partial state; the caller decides
		// whether the optimistic placeholder should be rolled back.
		return conv, Effects{Terminal: true, ErrorMessage: ev.Message}

	case EventCancelled:
		next, message, ok := cloneForAssistantTail(conv)
		if !ok {
			return conv, Effects{Terminal: true}
		}
		for _, stage := range message.Stages {
			if stage != nil && stage.Status == StageRunning {
				stage.Status = StageCancelled
			}
		}
		return next, Effects{Terminal: true}

	default:
		return conv, Effects{}
	}
}

func reduceStageUpsert(conv *Conversation, ev Event, status StageStatus) (*Conversation, Effects) {
	if ev.Stage == nil {
		return conv, Effects{}
	}
	next, message, ok := cloneForAssistantTail(conv)
	if !ok {
		return conv, Effects{}
	}

	stage := ev.Stage.Clone()
	stage.Status = status

	message.MessageType = MessageTypeCouncil
	stages, pos := resolveStageSlot(message.Stages, stage.Index, stage.ID)
	if existing := stages[pos]; existing != nil && stage.Results == nil && stage.Synthesis == nil {
		// A bare stage_start after deltas already landed must not wipe
		// the partial results.
		stage.Results = existing.Results
		stage.Synthesis = existing.Synthesis
	}
	stages[pos] = stage
	message.Stages = stages
	return next, Effects{}
}

// cloneForAssistantTail clones the conversation and its last message so
// the caller can mutate the copy freely. It refuses when the tail is not
// an assistant message.
func cloneForAssistantTail(conv *Conversation) (*Conversation, *Message, bool) {
	if conv == nil || len(conv.Messages) == 0 {
		return conv, nil, false
	}
	tail := conv.Messages[len(conv.Messages)-1]
	if tail == nil || tail.Role != RoleAssistant {
		return conv, nil, false
	}

	next := *conv
	next.Messages = make([]*Message, len(conv.Messages))
	copy(next.Messages, conv.Messages)
	message := tail.Clone()
	next.Messages[len(next.Messages)-1] = message
	return &next, message, true
}
