package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vipul43/ledgersync/internal/models"
)

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepDone       StepStatus = "done"
)

// StepSweep is the progress step of the deletion sweep
const StepSweep = "sweep"

// detailUnavailable is the current step reported when live progress was lost
const detailUnavailable = "in progress, detail unavailable"

type StepProgress struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Count  int        `json:"count"`
}

// SyncProgress is the advisory live view of a job
type SyncProgress struct {
	JobID        string               `json:"jobId"`
	Kind         models.SyncJobKind   `json:"kind"`
	Status       models.SyncJobStatus `json:"status"`
	Percentage   int                  `json:"percentage"`
	CurrentStep  string               `json:"currentStep"`
	Steps        []StepProgress       `json:"steps,omitempty"`
	Counts       models.SyncCounts    `json:"counts"`
	ErrorMessage *string              `json:"errorMessage,omitempty"`
	Detailed     bool                 `json:"detailed"` // false when built from the durable job alone
	StartedAt    *time.Time           `json:"startedAt,omitempty"`
	CompletedAt  *time.Time           `json:"completedAt,omitempty"`
}

func (p SyncProgress) clone() SyncProgress {
	p.Steps = append([]StepProgress(nil), p.Steps...)
	return p
}

// ProgressCache stores SyncProgress entries; entries may disappear at any time
type ProgressCache interface {
	Get(jobID string) (SyncProgress, bool)
	Set(progress SyncProgress)
	Remove(jobID string)
}

// LRUProgressCache is an in-process ProgressCache. Every Set restarts the entry's TTL,
// so entries expire after ttl of inactivity.
type LRUProgressCache struct {
	lru *expirable.LRU[string, SyncProgress]
}

func NewLRUProgressCache(size int, ttl time.Duration) *LRUProgressCache {
	if size <= 0 {
		size = 1024
	}
	return &LRUProgressCache{lru: expirable.NewLRU[string, SyncProgress](size, nil, ttl)}
}

func (c *LRUProgressCache) Get(jobID string) (SyncProgress, bool) {
	p, ok := c.lru.Get(jobID)
	if !ok {
		return SyncProgress{}, false
	}
	return p.clone(), true
}

func (c *LRUProgressCache) Set(progress SyncProgress) {
	c.lru.Add(progress.JobID, progress.clone())
}

func (c *LRUProgressCache) Remove(jobID string) {
	c.lru.Remove(jobID)
}
