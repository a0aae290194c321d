package models

import (
	"encoding/json"
	"sort"
)

// TaskID identifies one puzzle step in the escape room sequence
type TaskID int

// TaskProgress is the per-session record of task start/end timestamps.
// All timestamps are epoch milliseconds; StartTime == 0 means not started.
type TaskProgress struct {
	StartTime      int64
	TaskStartTimes map[TaskID]int64
	TaskEndTimes   map[TaskID]int64
	CompletedTasks map[TaskID]struct{}
	ScoreSubmitted bool
}

// NewTaskProgress returns progress in the "not started" state
func NewTaskProgress() TaskProgress {
	return TaskProgress{
		TaskStartTimes: make(map[TaskID]int64),
		TaskEndTimes:   make(map[TaskID]int64),
		CompletedTasks: make(map[TaskID]struct{}),
	}
}

// IsCompleted reports whether id is in the completed set
func (p TaskProgress) IsCompleted(id TaskID) bool {
	_, ok := p.CompletedTasks[id]
	return ok
}

// Clone returns a deep copy that shares no maps with p
func (p TaskProgress) Clone() TaskProgress {
	c := NewTaskProgress()
	c.StartTime = p.StartTime
	c.ScoreSubmitted = p.ScoreSubmitted
	for k, v := range p.TaskStartTimes {
		c.TaskStartTimes[k] = v
	}
	for k, v := range p.TaskEndTimes {
		c.TaskEndTimes[k] = v
	}
	for k := range p.CompletedTasks {
		c.CompletedTasks[k] = struct{}{}
	}
	return c
}

// progressJSON is the persisted layout. The completed set travels as an array.
type progressJSON struct {
	StartTime      int64            `json:"startTime"`
	TaskStartTimes map[TaskID]int64 `json:"taskStartTimes"`
	TaskEndTimes   map[TaskID]int64 `json:"taskEndTimes"`
	CompletedTasks []TaskID         `json:"completedTasks"`
	ScoreSubmitted bool             `json:"scoreSubmitted"`
}

// MarshalJSON implements json.Marshaler
func (p TaskProgress) MarshalJSON() ([]byte, error) {
	completed := make([]TaskID, 0, len(p.CompletedTasks))
	for id := range p.CompletedTasks {
		completed = append(completed, id)
	}
	sort.Slice(completed, func(i, j int) bool { return completed[i] < completed[j] })

	starts := p.TaskStartTimes
	if starts == nil {
		starts = map[TaskID]int64{}
	}
	ends := p.TaskEndTimes
	if ends == nil {
		ends = map[TaskID]int64{}
	}

	return json.Marshal(progressJSON{
		StartTime:      p.StartTime,
		TaskStartTimes: starts,
		TaskEndTimes:   ends,
		CompletedTasks: completed,
		ScoreSubmitted: p.ScoreSubmitted,
	})
}

// UnmarshalJSON implements json.Unmarshaler, rebuilding the completed set
func (p *TaskProgress) UnmarshalJSON(data []byte) error {
	var j progressJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	out := NewTaskProgress()
	out.StartTime = j.StartTime
	out.ScoreSubmitted = j.ScoreSubmitted
	for k, v := range j.TaskStartTimes {
		out.TaskStartTimes[k] = v
	}
	for k, v := range j.TaskEndTimes {
		out.TaskEndTimes[k] = v
	}
	for _, id := range j.CompletedTasks {
		out.CompletedTasks[id] = struct{}{}
	}

	*p = out
	return nil
}
