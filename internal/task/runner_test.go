package task

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/calyxhealth/intake-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunnerAppliesDefaults(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(DefaultConfig())
	runner := NewRunner(svc, RunnerConfig{}, nil)

	assert.Equal(t, 30*time.Second, runner.config.HeartbeatCheckInterval)
	assert.Equal(t, 5*time.Minute, runner.config.StuckSweepInterval)
	assert.Equal(t, 15*time.Minute, runner.config.SLASweepInterval)
}

func TestRunnerStartStop(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(DefaultConfig())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewRunner(svc, DefaultRunnerConfig(), logger)

	runner.Start()

	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop within 2s")
	}
}

// TestRunnerSweepsFire runs the tickers on very short intervals against a
// store staged with one recoverable problem per sweep and waits for all
// three sweeps to do their work.
func TestRunnerSweepsFire(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.LeaseTimeout = 10 * time.Minute
	cfg.SLAThreshold = 30 * time.Minute
	svc, tasks, workers := newTestService(cfg)
	ctx := context.Background()

	// Heartbeat monitor target: a silent worker holding a claim.
	lostTask := stageClaimedTask(tasks, "worker-lost", 0)
	workers.Put(&domain.WorkerRecord{
		ID:            "worker-lost",
		LastHeartbeat: time.Now().UTC().Add(-10 * time.Minute),
		HeldTaskID:    &lostTask.ID,
		Liveness:      domain.WorkerLivenessHealthy,
		RegisteredAt:  time.Now().UTC().Add(-time.Hour),
	})

	// Stuck-task sweep target: an expired lease with no worker record.
	stuckTask := stageClaimedTask(tasks, "worker-phantom", 0)
	stuckTask.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	tasks.Put(stuckTask)

	// SLA escalator target: an aged available task.
	old := time.Now().UTC().Add(-time.Hour)
	agedTask := &domain.Task{
		ID: uuid.New(), CorrelationID: "enc-aged", Status: domain.TaskStatusAvailable,
		Priority: domain.TaskPriorityNormal, Payload: json.RawMessage(`{}`),
		CreatedAt: old, UpdatedAt: old,
	}
	tasks.Put(agedTask)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewRunner(svc, RunnerConfig{
		HeartbeatCheckInterval: 10 * time.Millisecond,
		StuckSweepInterval:     10 * time.Millisecond,
		SLASweepInterval:       10 * time.Millisecond,
	}, logger)

	runner.Start()
	defer runner.Stop()

	require.Eventually(t, func() bool {
		lost, err := tasks.GetByID(ctx, lostTask.ID)
		if err != nil || lost.Status != domain.TaskStatusAvailable {
			return false
		}
		stuck, err := tasks.GetByID(ctx, stuckTask.ID)
		if err != nil || stuck.Status != domain.TaskStatusAvailable {
			return false
		}
		aged, err := tasks.GetByID(ctx, agedTask.ID)
		return err == nil && aged.Priority == domain.TaskPriorityHigh
	}, 2*time.Second, 10*time.Millisecond, "all three sweeps should fire")
}
