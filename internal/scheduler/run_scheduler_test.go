package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/basekick-labs/transcoder/internal/pipeline"
	"github.com/rs/zerolog"
)

type fakeRunner struct {
	calls   atomic.Int32
	err     error
	trigger string
	ctxErr  error
}

func (f *fakeRunner) Run(ctx context.Context, trigger string) (*pipeline.RunReport, error) {
	f.calls.Add(1)
	f.trigger = trigger
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.RunReport{RunID: "run-1", Status: pipeline.StatusSucceeded}, nil
}

func TestRunScheduler_New(t *testing.T) {
	s, err := NewRunScheduler(&RunSchedulerConfig{
		Runner:   &fakeRunner{},
		Schedule: "*/15 * * * *",
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewRunScheduler failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler should not be running after creation")
	}
	if s.Schedule() != "*/15 * * * *" {
		t.Errorf("schedule = %v, want */15 * * * *", s.Schedule())
	}
	if !s.NextRun().IsZero() {
		t.Error("NextRun should be zero while stopped")
	}
}

func TestRunScheduler_DefaultSchedule(t *testing.T) {
	s, err := NewRunScheduler(&RunSchedulerConfig{Runner: &fakeRunner{}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewRunScheduler failed: %v", err)
	}
	if s.Schedule() != DefaultSchedule {
		t.Errorf("schedule = %v, want default %v", s.Schedule(), DefaultSchedule)
	}
}

func TestRunScheduler_InvalidSchedule(t *testing.T) {
	for _, schedule := range []string{"invalid", "* * * * * *", "61 * * * *"} {
		_, err := NewRunScheduler(&RunSchedulerConfig{
			Runner:   &fakeRunner{},
			Schedule: schedule,
			Logger:   zerolog.Nop(),
		})
		if err == nil {
			t.Errorf("expected error for schedule %q", schedule)
		}
	}
}

func TestRunScheduler_StartStop(t *testing.T) {
	s, err := NewRunScheduler(&RunSchedulerConfig{Runner: &fakeRunner{}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("scheduler should be running")
	}
	if s.NextRun().IsZero() {
		t.Error("NextRun should be set while running")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler should be stopped")
	}
}

func TestRunScheduler_Trigger(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewRunScheduler(&RunSchedulerConfig{Runner: runner, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}

	s.trigger(context.Background())
	if runner.calls.Load() != 1 {
		t.Errorf("runner called %d times, want 1", runner.calls.Load())
	}
	if runner.trigger != "scheduled" {
		t.Errorf("trigger = %q, want scheduled", runner.trigger)
	}
}

func TestRunScheduler_TriggerToleratesErrors(t *testing.T) {
	for _, runErr := range []error{pipeline.ErrRunInProgress, errors.New("source unavailable")} {
		runner := &fakeRunner{err: runErr}
		s, err := NewRunScheduler(&RunSchedulerConfig{Runner: runner, Logger: zerolog.Nop()})
		if err != nil {
			t.Fatal(err)
		}
		s.trigger(context.Background())
		if runner.calls.Load() != 1 {
			t.Errorf("runner called %d times, want 1", runner.calls.Load())
		}
	}
}

func TestRunScheduler_ScheduledRunUsesParentContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{}
	s, err := NewRunScheduler(&RunSchedulerConfig{Runner: runner, Context: parent, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}

	s.runScheduled()
	if !errors.Is(runner.ctxErr, context.Canceled) {
		t.Errorf("run context error = %v, want context.Canceled", runner.ctxErr)
	}
}
