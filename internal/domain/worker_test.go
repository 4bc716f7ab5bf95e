package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewWorkerRecord(t *testing.T) {
	record, err := NewWorkerRecord("worker-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if record.ID != "worker-1" {
		t.Errorf("Expected ID worker-1, got %s", record.ID)
	}

	if record.Liveness != WorkerLivenessIdle {
		t.Errorf("Expected liveness idle, got %s", record.Liveness)
	}

	if record.HeldTaskID != nil {
		t.Error("Expected no held task on a new record")
	}

	if record.LastHeartbeat.IsZero() || record.RegisteredAt.IsZero() {
		t.Error("Expected non-zero timestamps")
	}

	// Empty worker ID is rejected
	_, err = NewWorkerRecord("")
	if !errors.Is(err, ErrEmptyWorkerID) {
		t.Errorf("Expected error %v, got %v", ErrEmptyWorkerID, err)
	}
}

func TestWorkerRecordValidate(t *testing.T) {
	taskID := uuid.New()
	valid := WorkerRecord{
		ID:         "worker-1",
		HeldTaskID: &taskID,
		Liveness:   WorkerLivenessHealthy,
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	invalid := valid
	invalid.ID = ""
	if err := invalid.Validate(); !errors.Is(err, ErrEmptyWorkerID) {
		t.Errorf("Expected error %v, got %v", ErrEmptyWorkerID, err)
	}

	invalid = valid
	invalid.Liveness = WorkerLiveness("zombie")
	if err := invalid.Validate(); !errors.Is(err, ErrInvalidLiveness) {
		t.Errorf("Expected error %v, got %v", ErrInvalidLiveness, err)
	}
}
