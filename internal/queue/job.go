package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Job is one delivery of an enqueued payload
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`

	// raw is the exact envelope held in the active list, used to ack
	raw string
}

// Decode unmarshals the job payload into v
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("malformed %s payload: %w", j.Queue, err))
	}
	return nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. The job goes straight to the failed list.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
