package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/models"
)

// ProgressKey is the per-session key the task record is persisted under.
const ProgressKey = "escape-room-progress"

// ErrInvalidTask is returned for task ids outside the valid task list.
var ErrInvalidTask = errors.New("task is not part of the escape room")

// DefaultValidTasks is the current puzzle sequence. Other ids are retired.
var DefaultValidTasks = []models.TaskID{1, 2, 3, 8}

// Summary is the compact progress view shown on task pages.
type Summary struct {
	Completed   int           `json:"completed"`
	Total       int           `json:"total"`
	CurrentTask models.TaskID `json:"current_task"`
}

// Tracker is the source of truth for one session's task timings. Every
// mutation writes the full record back to the Store before returning.
type Tracker struct {
	store      Store
	key        string
	clock      clockwork.Clock
	validTasks []models.TaskID

	mu       sync.Mutex
	progress models.TaskProgress
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock replaces the real clock, mainly for tests.
func WithClock(c clockwork.Clock) TrackerOption {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithValidTasks overrides DefaultValidTasks.
func WithValidTasks(ids []models.TaskID) TrackerOption {
	return func(t *Tracker) {
		t.validTasks = append([]models.TaskID(nil), ids...)
	}
}

// NewTracker rehydrates the tracker for sessionID from store. A missing or
// unreadable record starts the session from scratch.
func NewTracker(ctx context.Context, store Store, sessionID string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:      store,
		key:        sessionKey(sessionID, ProgressKey),
		clock:      clockwork.NewRealClock(),
		validTasks: DefaultValidTasks,
		progress:   models.NewTaskProgress(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.load(ctx)
	return t
}

func (t *Tracker) load(ctx context.Context) {
	data, err := t.store.Get(ctx, t.key)
	if errors.Is(err, ErrKeyNotFound) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("key", t.key).Msg("could not load progress, starting fresh")
		return
	}

	var p models.TaskProgress
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("key", t.key).Msg("discarding unreadable progress")
		if err := t.store.Delete(ctx, t.key); err != nil {
			log.Error().Err(err).Str("key", t.key).Msg("failed to delete unreadable progress")
		}
		return
	}
	t.progress = p
}

// save must be called with t.mu held.
func (t *Tracker) save(ctx context.Context) error {
	data, err := json.Marshal(t.progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := t.store.Set(ctx, t.key, data); err != nil {
		return fmt.Errorf("failed to persist progress: %w", err)
	}
	return nil
}

func (t *Tracker) isValid(id models.TaskID) bool {
	for _, v := range t.validTasks {
		if v == id {
			return true
		}
	}
	return false
}

// StartTask stamps the start of id. Revisiting a task overwrites its stamp;
// the session start is only set once.
func (t *Tracker) StartTask(ctx context.Context, id models.TaskID) error {
	if !t.isValid(id) {
		return fmt.Errorf("%w: %d", ErrInvalidTask, id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now().UnixMilli()
	if t.progress.StartTime == 0 {
		t.progress.StartTime = now
	}
	t.progress.TaskStartTimes[id] = now

	log.Debug().Int("task_id", int(id)).Msg("task started")
	return t.save(ctx)
}

// CompleteTask records the first completion of id and returns the time spent
// on it. Later calls return the recorded duration without changing anything.
func (t *Tracker) CompleteTask(ctx context.Context, id models.TaskID) (time.Duration, error) {
	if !t.isValid(id) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTask, id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.progress.IsCompleted(id) {
		return t.durationLocked(id), nil
	}

	now := t.clock.Now().UnixMilli()
	if t.progress.StartTime == 0 {
		t.progress.StartTime = now
	}
	t.progress.CompletedTasks[id] = struct{}{}
	t.progress.TaskEndTimes[id] = now

	d := t.durationLocked(id)
	log.Info().Int("task_id", int(id)).Dur("duration", d).Msg("task completed")
	return d, t.save(ctx)
}

// durationLocked falls back to the session start when the task has no start stamp.
func (t *Tracker) durationLocked(id models.TaskID) time.Duration {
	start, ok := t.progress.TaskStartTimes[id]
	if !ok || start == 0 {
		start = t.progress.StartTime
	}
	return time.Duration(t.progress.TaskEndTimes[id]-start) * time.Millisecond
}

// Progress returns a copy of the current record.
func (t *Tracker) Progress() models.TaskProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.Clone()
}

// ValidTasks returns the puzzle sequence this tracker counts.
func (t *Tracker) ValidTasks() []models.TaskID {
	return append([]models.TaskID(nil), t.validTasks...)
}

func (t *Tracker) completedCountLocked() int {
	n := 0
	for _, id := range t.validTasks {
		if t.progress.IsCompleted(id) {
			n++
		}
	}
	return n
}

// IsAllTasksCompleted reports whether every valid task is completed.
func (t *Tracker) IsAllTasksCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completedCountLocked() == len(t.validTasks)
}

// IsTaskCompleted reports whether id has been completed.
func (t *Tracker) IsTaskCompleted(id models.TaskID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.IsCompleted(id)
}

// CurrentTask is the first valid task not yet completed, or the last task
// once everything is done.
func (t *Tracker) CurrentTask() models.TaskID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentTaskLocked()
}

func (t *Tracker) currentTaskLocked() models.TaskID {
	for _, id := range t.validTasks {
		if !t.progress.IsCompleted(id) {
			return id
		}
	}
	if len(t.validTasks) == 0 {
		return 0
	}
	return t.validTasks[len(t.validTasks)-1]
}

// Summary returns completed/total counts and the current task.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summary{
		Completed:   t.completedCountLocked(),
		Total:       len(t.validTasks),
		CurrentTask: t.currentTaskLocked(),
	}
}

// TotalTime is the span from the session start to the latest completion.
func (t *Tracker) TotalTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.progress.StartTime == 0 || len(t.progress.TaskEndTimes) == 0 {
		return 0
	}
	var last int64
	for _, end := range t.progress.TaskEndTimes {
		if end > last {
			last = end
		}
	}
	return time.Duration(last-t.progress.StartTime) * time.Millisecond
}

// Elapsed is the running clock shown while the session is in play.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.progress.StartTime == 0 {
		return 0
	}
	return time.Duration(t.clock.Now().UnixMilli()-t.progress.StartTime) * time.Millisecond
}

// TaskTimes maps each completed valid task to its duration in milliseconds,
// keyed by the task id as a string.
func (t *Tracker) TaskTimes() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int64)
	for _, id := range t.validTasks {
		if t.progress.IsCompleted(id) {
			out[strconv.Itoa(int(id))] = t.durationLocked(id).Milliseconds()
		}
	}
	return out
}

// ScoreSubmitted reports whether the run has been durably recorded remotely.
func (t *Tracker) ScoreSubmitted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.ScoreSubmitted
}

// MarkScoreSubmitted flags the run as recorded. Callers must only do this
// after a confirmed remote write.
func (t *Tracker) MarkScoreSubmitted(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress.ScoreSubmitted = true
	return t.save(ctx)
}

// SaveProgress forces the current record back to the store.
func (t *Tracker) SaveProgress(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.save(ctx)
}

// ResetProgress returns the session to the not-started state.
func (t *Tracker) ResetProgress(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress = models.NewTaskProgress()
	return t.save(ctx)
}

func sessionKey(sessionID, key string) string {
	return sessionID + ":" + key
}
