package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/partition"
)

var ErrNotFound = errors.New("session not found")

// Store owns every session. All reads and writes of a State happen under its lock.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*State
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{sessions: map[string]*State{}, ttl: ttl, now: time.Now}
}

func (s *Store) Create() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newState(uuid.NewString(), s.now)
	s.sessions[st.ID] = st
	return st.snapshot()
}

// Update runs fn with exclusive access to the session and refreshes its idle clock.
func (s *Store) Update(id string, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.live(id)
	if !ok {
		return ErrNotFound
	}
	st.LastSeen = s.now().UTC()
	return fn(st)
}

// Touch applies background updates (status polls) without counting as activity.
func (s *Store) Touch(id string, fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	fn(st)
	return nil
}

func (s *Store) Snapshot(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.live(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return st.snapshot(), nil
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes idle sessions and returns their ids.
func (s *Store) Sweep() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for id, st := range s.sessions {
		if s.expired(st) {
			expired = append(expired, id)
			delete(s.sessions, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// RunJanitor sweeps every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration, onExpire func(id string)) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.Sweep() {
				if onExpire != nil {
					onExpire(id)
				}
			}
		}
	}
}

func (s *Store) live(id string) (*State, bool) {
	st, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expired(st) {
		delete(s.sessions, id)
		return nil, false
	}
	return st, true
}

func (s *Store) expired(st *State) bool {
	return s.ttl > 0 && s.now().Sub(st.LastSeen) > s.ttl
}

type JobSnapshot struct {
	JobID                int64                `json:"job_id"`
	BatchSize            int                  `json:"batch_size"`
	SelectionOpen        bool                 `json:"selection_open"`
	Selection            []partition.Entry    `json:"selection,omitempty"`
	Triggered            *TriggeredJob        `json:"triggered,omitempty"`
	CurrentStep          int                  `json:"current_step"`
	CurrentStepName      string               `json:"current_step_name,omitempty"`
	FailedStepID         string               `json:"failed_step_id,omitempty"`
	ProcessingPartitions []string             `json:"processing_partitions"`
	LastReport           *domain.StatusReport `json:"last_report,omitempty"`
	RetriggeredCount     int                  `json:"retriggered_count"`
}

type Snapshot struct {
	ID        string        `json:"session_id"`
	CreatedAt time.Time     `json:"created_at"`
	LastSeen  time.Time     `json:"last_seen"`
	Jobs      []JobSnapshot `json:"jobs"`
	Logs      []LogEntry    `json:"logs"`
}

func (s *State) snapshot() Snapshot {
	out := Snapshot{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		LastSeen:  s.LastSeen,
		Jobs:      make([]JobSnapshot, 0, len(s.jobs)),
		Logs:      s.Logs(0),
	}
	for _, js := range s.jobs {
		out.Jobs = append(out.Jobs, js.snapshot())
	}
	sort.Slice(out.Jobs, func(i, j int) bool { return out.Jobs[i].JobID < out.Jobs[j].JobID })
	return out
}

// JobSnapshot returns a copy of one job's state.
func (s *State) JobSnapshot(jobID int64) JobSnapshot {
	return s.Job(jobID).snapshot()
}

func (js *JobState) snapshot() JobSnapshot {
	out := JobSnapshot{
		JobID:                js.JobID,
		BatchSize:            js.BatchSize,
		SelectionOpen:        js.Selection != nil,
		CurrentStep:          js.CurrentStep,
		CurrentStepName:      js.CurrentStepName,
		FailedStepID:         js.FailedStepID,
		ProcessingPartitions: append([]string{}, js.ProcessingPartitions...),
		RetriggeredCount:     js.RetriggeredCount,
	}
	if js.Selection != nil {
		out.Selection = js.Selection.Entries()
	}
	if js.Triggered != nil {
		t := *js.Triggered
		t.Partitions = append([]string{}, js.Triggered.Partitions...)
		out.Triggered = &t
	}
	if js.LastReport != nil {
		r := *js.LastReport
		r.ProcessingPartitions = append([]string{}, js.LastReport.ProcessingPartitions...)
		out.LastReport = &r
	}
	return out
}
