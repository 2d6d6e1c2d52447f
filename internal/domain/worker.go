package domain

import (
	"errors"
	"time"
)

// Worker is a slicer worker process registered with the pipeline.
type Worker struct {
	ID              int
	Name            string
	Engine          string
	PoolSize        int
	Status          WorkerStatus
	LastSeen        time.Time
	OrdersProcessed int
	CreatedAt       time.Time
}

type WorkerStatus string

const (
	WorkerStatusOnline  WorkerStatus = "online"
	WorkerStatusOffline WorkerStatus = "offline"
)

func NewWorker(name, engine string, poolSize int) (*Worker, error) {
	if name == "" {
		return nil, errors.New("worker name is required")
	}
	if poolSize < 1 {
		return nil, errors.New("worker pool size must be at least 1")
	}

	now := time.Now().UTC()
	return &Worker{
		Name:      name,
		Engine:    engine,
		PoolSize:  poolSize,
		Status:    WorkerStatusOnline,
		LastSeen:  now,
		CreatedAt: now,
	}, nil
}

func (w *Worker) UpdateHeartbeat() {
	w.LastSeen = time.Now().UTC()
	w.Status = WorkerStatusOnline
}

func (w *Worker) SetOffline() {
	w.Status = WorkerStatusOffline
}

// IsOnline checks if the worker is considered online based on last heartbeat
func (w *Worker) IsOnline(heartbeatTimeout time.Duration) bool {
	if w.Status == WorkerStatusOffline {
		return false
	}
	return time.Since(w.LastSeen) <= heartbeatTimeout
}
