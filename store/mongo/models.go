package mongo

import (
	"fmt"
	"time"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID             string     `bson:"_id"`
	Queue          string     `bson:"queue"`
	Payload        []byte     `bson:"payload,omitempty"`
	IdempotencyKey string     `bson:"idempotency_key"`
	State          string     `bson:"state"`
	Priority       int        `bson:"priority"`
	MaxAttempts    int        `bson:"max_attempts"`
	AttemptsMade   int        `bson:"attempts_made"`
	TimeoutStreak  int        `bson:"timeout_streak"`
	LastError      *failModel `bson:"last_error,omitempty"`
	ReturnValue    []byte     `bson:"return_value,omitempty"`
	ReplayOf       string     `bson:"replay_of,omitempty"`
	WorkerID       string     `bson:"worker_id,omitempty"`
	Timeout        int64      `bson:"timeout"`
	AvailableAt    time.Time  `bson:"available_at"`
	LeaseExpiresAt *time.Time `bson:"lease_expires_at,omitempty"`
	StartedAt      *time.Time `bson:"started_at,omitempty"`
	FinishedAt     *time.Time `bson:"finished_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

type failModel struct {
	Message string    `bson:"message"`
	Kind    string    `bson:"kind"`
	At      time.Time `bson:"at"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:             j.ID.String(),
		Queue:          j.Queue,
		Payload:        j.Payload,
		IdempotencyKey: j.IdempotencyKey,
		State:          string(j.State),
		Priority:       j.Priority,
		MaxAttempts:    j.MaxAttempts,
		AttemptsMade:   j.AttemptsMade,
		TimeoutStreak:  j.TimeoutStreak,
		ReturnValue:    j.ReturnValue,
		ReplayOf:       j.ReplayOf.String(),
		WorkerID:       j.WorkerID.String(),
		Timeout:        j.Timeout.Nanoseconds(),
		AvailableAt:    j.AvailableAt,
		LeaseExpiresAt: j.LeaseExpiresAt,
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if j.LastError != nil {
		m.LastError = &failModel{
			Message: j.LastError.Message,
			Kind:    string(j.LastError.Kind),
			At:      j.LastError.At,
		}
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		ID:             parsedID,
		Queue:          m.Queue,
		Payload:        m.Payload,
		IdempotencyKey: m.IdempotencyKey,
		State:          job.State(m.State),
		Priority:       m.Priority,
		MaxAttempts:    m.MaxAttempts,
		AttemptsMade:   m.AttemptsMade,
		TimeoutStreak:  m.TimeoutStreak,
		ReturnValue:    m.ReturnValue,
		Timeout:        time.Duration(m.Timeout),
		AvailableAt:    m.AvailableAt,
		LeaseExpiresAt: m.LeaseExpiresAt,
		StartedAt:      m.StartedAt,
		FinishedAt:     m.FinishedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}

	if m.LastError != nil {
		j.LastError = &job.FailureInfo{
			Message: m.LastError.Message,
			Kind:    conveyor.Kind(m.LastError.Kind),
			At:      m.LastError.At,
		}
	}
	if m.ReplayOf != "" {
		parsed, rErr := id.ParseJobID(m.ReplayOf)
		if rErr == nil {
			j.ReplayOf = parsed
		}
	}
	if m.WorkerID != "" {
		parsed, wErr := id.ParseWorkerID(m.WorkerID)
		if wErr == nil {
			j.WorkerID = parsed
		}
	}

	return j, nil
}

// ── Queue model ───────────────────────────────────────────────────

type queueModel struct {
	Name      string    `bson:"_id"`
	Paused    bool      `bson:"paused"`
	CreatedAt time.Time `bson:"created_at"`
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqModel struct {
	ID             string     `bson:"_id"`
	JobID          string     `bson:"job_id"`
	Queue          string     `bson:"queue"`
	Payload        []byte     `bson:"payload,omitempty"`
	IdempotencyKey string     `bson:"idempotency_key"`
	Reason         string     `bson:"reason"`
	Kind           string     `bson:"kind"`
	AttemptsMade   int        `bson:"attempts_made"`
	MaxAttempts    int        `bson:"max_attempts"`
	Priority       int        `bson:"priority"`
	Timeout        int64      `bson:"timeout"`
	FailedAt       time.Time  `bson:"failed_at"`
	ReplayedAt     *time.Time `bson:"replayed_at,omitempty"`
	ReplayedAs     string     `bson:"replayed_as,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
}

func toDLQModel(e *dlq.Entry) *dlqModel {
	return &dlqModel{
		ID:             e.ID.String(),
		JobID:          e.JobID.String(),
		Queue:          e.Queue,
		Payload:        e.Payload,
		IdempotencyKey: e.IdempotencyKey,
		Reason:         e.Reason,
		Kind:           string(e.Kind),
		AttemptsMade:   e.AttemptsMade,
		MaxAttempts:    e.MaxAttempts,
		Priority:       e.Priority,
		Timeout:        e.Timeout.Nanoseconds(),
		FailedAt:       e.FailedAt,
		ReplayedAt:     e.ReplayedAt,
		ReplayedAs:     e.ReplayedAs.String(),
		CreatedAt:      e.CreatedAt,
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse dlq id %q: %w", m.ID, err)
	}
	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: parse dlq job id %q: %w", m.JobID, err)
	}

	e := &dlq.Entry{
		ID:             parsedID,
		JobID:          parsedJobID,
		Queue:          m.Queue,
		Payload:        m.Payload,
		IdempotencyKey: m.IdempotencyKey,
		Reason:         m.Reason,
		Kind:           conveyor.Kind(m.Kind),
		AttemptsMade:   m.AttemptsMade,
		MaxAttempts:    m.MaxAttempts,
		Priority:       m.Priority,
		Timeout:        time.Duration(m.Timeout),
		FailedAt:       m.FailedAt,
		ReplayedAt:     m.ReplayedAt,
		CreatedAt:      m.CreatedAt,
	}
	if m.ReplayedAs != "" {
		parsed, rErr := id.ParseJobID(m.ReplayedAs)
		if rErr == nil {
			e.ReplayedAs = parsed
		}
	}
	return e, nil
}
