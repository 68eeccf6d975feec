// Package scheduler provides background task scheduling via asynq. The only
// task today is the deferred orphan sweep: after a duplicate company is
// deleted, its INN is re-swept later so requisites surfaced by the lagging
// index also get cleaned.
package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const TaskOrphanSweep = "reconcile.orphan_sweep"

// OrphanSweepPayload identifies the INN to sweep.
type OrphanSweepPayload struct {
	INN string `json:"inn"`
}

// NewOrphanSweepTask builds the asynq task for one sweep.
func NewOrphanSweepTask(payload OrphanSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrphanSweep, data), nil
}

// ParseOrphanSweepPayload decodes and validates a sweep task payload.
func ParseOrphanSweepPayload(task *asynq.Task) (OrphanSweepPayload, error) {
	var payload OrphanSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.INN == "" {
		return payload, fmt.Errorf("orphan sweep payload missing inn")
	}
	return payload, nil
}
