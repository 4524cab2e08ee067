package council

import "fmt"

// ApplyMemberDelta folds one incremental member delta into a stage list
// and returns the updated list. The input slice is never mutated: the
// target stage is cloned before merging, untouched stages are shared.
//
// Stage identity prefers the ordinal index when the producer sent one,
// then falls back to the stage id; a delta that matches neither creates
// the stage on the fly. A delta always forces the stage back to running,
// so an out-of-order stage_complete cannot freeze a stage that is still
// producing text. Terminal status is set exclusively by the reducer.
func ApplyMemberDelta(stages []*Stage, d MemberDelta) []*Stage {
	next, pos := resolveStageSlot(stages, d.StageIndex, d.StageID)

	stage := next[pos].Clone()
	if stage == nil {
		stage = synthesizeStage(d, pos)
	}
	stage.Status = StageRunning

	mergeMemberDelta(stage, d)
	next[pos] = stage
	return next
}

// resolveStageSlot locates or allocates the slot for a stage, returning
// a fresh slice (shallow copy, grown with nil gaps when the producer
// addresses an index past the end) and the target position.
func resolveStageSlot(stages []*Stage, index *int, id string) ([]*Stage, int) {
	if index != nil && *index >= 0 {
		pos := *index
		size := len(stages)
		if pos+1 > size {
			size = pos + 1
		}
		next := make([]*Stage, size)
		copy(next, stages)
		return next, pos
	}

	if id != "" {
		for pos, stage := range stages {
			if stage != nil && stage.ID == id {
				next := make([]*Stage, len(stages))
				copy(next, stages)
				return next, pos
			}
		}
	}

	next := make([]*Stage, len(stages)+1)
	copy(next, stages)
	return next, len(stages)
}

// synthesizeStage builds a stage shell from delta metadata when the
// delta arrives before its stage_start.
func synthesizeStage(d MemberDelta, pos int) *Stage {
	name := d.StageID
	if name == "" {
		name = fmt.Sprintf("Stage %d", pos+1)
	}
	stage := &Stage{
		ID:   d.StageID,
		Name: name,
		Kind: d.Kind,
	}
	if d.StageIndex != nil {
		index := *d.StageIndex
		stage.Index = &index
	}
	return stage
}

func mergeMemberDelta(stage *Stage, d MemberDelta) {
	member := d.Member
	if member == "" {
		member = fmt.Sprintf("Member %d", d.MemberIndex+1)
	}

	switch stage.Kind {
	case StageKindSynthesis:
		// Exactly one result; member_index is ignored.
		result := stage.Synthesis
		if result == nil {
			result = &MemberResult{}
			stage.Synthesis = result
		}
		if result.Model == "" && d.Member != "" {
			result.Model = d.Member
		}
		result.Response += d.Delta

	case StageKindRankings:
		result := memberSlot(stage, d.MemberIndex)
		if result.Model == "" {
			result.Model = member
		}
		result.Ranking += d.Delta
		// parsed_ranking arrives fully formed with stage_complete, never here.

	default:
		result := memberSlot(stage, d.MemberIndex)
		if result.Model == "" {
			result.Model = member
		}
		if result.Status == "" {
			result.Status = MemberStatusOK
		}
		result.Response += d.Delta
	}
}

// memberSlot returns the result at the member's stable slot, growing the
// sparse results slice as needed. Gaps are kept, never compacted.
func memberSlot(stage *Stage, memberIndex int) *MemberResult {
	if memberIndex < 0 {
		memberIndex = 0
	}
	for len(stage.Results) <= memberIndex {
		stage.Results = append(stage.Results, nil)
	}
	if stage.Results[memberIndex] == nil {
		stage.Results[memberIndex] = &MemberResult{}
	}
	return stage.Results[memberIndex]
}
