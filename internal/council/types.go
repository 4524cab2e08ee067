package council

import (
	"encoding/json"
	"fmt"
)

// Mode selects how the server answers a conversation's messages.
type Mode string

const (
	// ModeCouncil runs the full multi-stage deliberation pipeline.
	ModeCouncil Mode = "council"
	// ModeChat answers with the single fast speaker path.
	ModeChat Mode = "chat"
)

// Role identifies the message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType distinguishes the two assistant answer shapes.
type MessageType string

const (
	MessageTypeSpeaker MessageType = "speaker"
	MessageTypeCouncil MessageType = "council"
)

// StageKind identifies the result shape of one pipeline stage.
type StageKind string

const (
	StageKindResponses StageKind = "responses"
	StageKindRankings  StageKind = "rankings"
	StageKindSynthesis StageKind = "synthesis"
)

// StageStatus tracks one stage's lifecycle.
type StageStatus string

const (
	StageRunning   StageStatus = "running"
	StageComplete  StageStatus = "complete"
	StageCancelled StageStatus = "cancelled"
)

// Member result status values as reported by the producer.
const (
	MemberStatusOK     = "ok"
	MemberStatusFailed = "failed"
)

// MemberResult holds one member's output within a stage. The populated
// fields depend on the owning stage's kind: responses stages fill
// Response/Status, rankings stages fill Ranking/ParsedRanking, synthesis
// stages fill Response only.
type MemberResult struct {
	Model         string   `json:"model,omitempty"`
	Response      string   `json:"response,omitempty"`
	Status        string   `json:"status,omitempty"`
	Error         string   `json:"error,omitempty"`
	Ranking       string   `json:"ranking,omitempty"`
	ParsedRanking []string `json:"parsed_ranking,omitempty"`
}

// Clone returns an independent copy.
func (r *MemberResult) Clone() *MemberResult {
	if r == nil {
		return nil
	}
	copied := *r
	copied.ParsedRanking = append([]string(nil), r.ParsedRanking...)
	return &copied
}

// AggregateRank is one row of the cross-member ranking summary attached to
// a completed rankings stage.
type AggregateRank struct {
	Model         string  `json:"model"`
	AverageRank   float64 `json:"average_rank"`
	RankingsCount int     `json:"rankings_count"`
}

// Stage is one phase of the deliberation pipeline. Results is sparse:
// member slots are addressed by member index and gaps stay nil. Synthesis
// stages keep their single result in Synthesis instead; a stage's result
// container never changes shape after creation.
type Stage struct {
	ID                string
	Index             *int
	Name              string
	Kind              StageKind
	Status            StageStatus
	Results           []*MemberResult
	Synthesis         *MemberResult
	LabelToModel      map[string]string
	AggregateRankings []AggregateRank
}

type stageJSON struct {
	ID                string            `json:"id,omitempty"`
	Index             *int              `json:"index,omitempty"`
	Name              string            `json:"name,omitempty"`
	Kind              StageKind         `json:"kind,omitempty"`
	Status            StageStatus       `json:"status,omitempty"`
	Results           json.RawMessage   `json:"results,omitempty"`
	LabelToModel      map[string]string `json:"label_to_model,omitempty"`
	AggregateRankings []AggregateRank   `json:"aggregate_rankings,omitempty"`
}

// UnmarshalJSON decodes a stage, accepting both result container shapes:
// an array for responses/rankings stages and a single object for
// synthesis stages.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var raw stageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Stage{
		ID:                raw.ID,
		Index:             raw.Index,
		Name:              raw.Name,
		Kind:              raw.Kind,
		Status:            raw.Status,
		LabelToModel:      raw.LabelToModel,
		AggregateRankings: raw.AggregateRankings,
	}

	if len(raw.Results) == 0 || string(raw.Results) == "null" {
		return nil
	}

	if raw.Kind == StageKindSynthesis {
		result := &MemberResult{}
		if err := json.Unmarshal(raw.Results, result); err != nil {
			return fmt.Errorf("decode synthesis results: %w", err)
		}
		s.Synthesis = result
		return nil
	}

	var results []*MemberResult
	if err := json.Unmarshal(raw.Results, &results); err != nil {
		return fmt.Errorf("decode %s results: %w", raw.Kind, err)
	}
	s.Results = results
	return nil
}

// MarshalJSON emits the kind-shaped results container.
func (s *Stage) MarshalJSON() ([]byte, error) {
	raw := stageJSON{
		ID:                s.ID,
		Index:             s.Index,
		Name:              s.Name,
		Kind:              s.Kind,
		Status:            s.Status,
		LabelToModel:      s.LabelToModel,
		AggregateRankings: s.AggregateRankings,
	}

	if s.Kind == StageKindSynthesis {
		if s.Synthesis != nil {
			encoded, err := json.Marshal(s.Synthesis)
			if err != nil {
				return nil, err
			}
			raw.Results = encoded
		}
	} else if s.Results != nil {
		encoded, err := json.Marshal(s.Results)
		if err != nil {
			return nil, err
		}
		raw.Results = encoded
	}

	return json.Marshal(raw)
}

// Clone returns an independent copy with cloned results.
func (s *Stage) Clone() *Stage {
	if s == nil {
		return nil
	}
	copied := *s
	if s.Index != nil {
		index := *s.Index
		copied.Index = &index
	}
	if s.Results != nil {
		copied.Results = make([]*MemberResult, len(s.Results))
		for i, result := range s.Results {
			copied.Results[i] = result.Clone()
		}
	}
	copied.Synthesis = s.Synthesis.Clone()
	if s.LabelToModel != nil {
		copied.LabelToModel = make(map[string]string, len(s.LabelToModel))
		for label, model := range s.LabelToModel {
			copied.LabelToModel[label] = model
		}
	}
	copied.AggregateRankings = append([]AggregateRank(nil), s.AggregateRankings...)
	return &copied
}

// Message is one transcript entry. User messages are immutable once
// created; an assistant message starts empty and is mutated in place by
// the reducer while its stream is active.
type Message struct {
	ID          string      `json:"id,omitempty"`
	Role        Role        `json:"role"`
	Content     string      `json:"content,omitempty"`
	MessageType MessageType `json:"message_type,omitempty"`
	Stages      []*Stage    `json:"stages,omitempty"`
	Response    string      `json:"response,omitempty"`
	Model       string      `json:"model,omitempty"`
	Error       bool        `json:"error,omitempty"`
}

// Clone returns an independent copy with cloned stages.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	copied := *m
	if m.Stages != nil {
		copied.Stages = make([]*Stage, len(m.Stages))
		for i, stage := range m.Stages {
			copied.Stages[i] = stage.Clone()
		}
	}
	return &copied
}

// Conversation is the authoritative snapshot of one conversation.
type Conversation struct {
	ID        string     `json:"id"`
	Mode      Mode       `json:"mode,omitempty"`
	Title     string     `json:"title,omitempty"`
	CreatedAt string     `json:"created_at,omitempty"`
	Messages  []*Message `json:"messages"`
}

// Clone returns a copy sharing no mutable state with the original.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	copied := *c
	if c.Messages != nil {
		copied.Messages = make([]*Message, len(c.Messages))
		for i, message := range c.Messages {
			copied.Messages[i] = message.Clone()
		}
	}
	return &copied
}

// LastMessage returns the most recently appended message, or nil.
func (c *Conversation) LastMessage() *Message {
	if c == nil || len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// Meta is the conversation list entry.
type Meta struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	MessageCount int    `json:"message_count"`
	Mode         Mode   `json:"mode,omitempty"`
}

// Info carries per-conversation counters refreshed after each turn.
type Info struct {
	RemainingMessages int `json:"remaining_messages"`
}
