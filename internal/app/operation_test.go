package app

import (
	"errors"
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "Watchdog",
			parameters: "timer-5m",
		},
		{
			name:       "empty parameters",
			operation:  "Sync",
			parameters: "",
		},
	}

	now := time.Date(2024, 3, 9, 7, 5, 1, 0, time.FixedZone("CET", 3600))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters, now)

			if op.Name != tt.operation {
				t.Errorf("Name = %q, want %q", op.Name, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
			if op.ID() != "20240309T060501Z" {
				t.Errorf("ID() = %q, want %q", op.ID(), "20240309T060501Z")
			}
		})
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("Sync", "", time.Now())
	if err := op.Fail(nil); err != nil || op.Status != "success" {
		t.Errorf("Fail(nil) = %v, status %q", err, op.Status)
	}
	boom := errors.New("boom")
	if err := op.Fail(boom); !errors.Is(err, boom) || op.Status != "error" {
		t.Errorf("Fail(boom) = %v, status %q", err, op.Status)
	}
}
