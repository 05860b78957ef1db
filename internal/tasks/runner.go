// Package tasks composes progress-reporting tasks into sequential stages of
// concurrently running work.
package tasks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Progress is a single progress observation from a running task.
type Progress struct {
	Current int
	Max     int
	Label   string
	Status  string
}

type Reporter func(Progress)

// Task is a unit of work that can be canceled through its context and reports
// progress while it runs.
type Task interface {
	Name() string
	Run(ctx context.Context, report Reporter) error
}

// Func adapts a function to a Task.
type Func struct {
	TaskName string
	Fn       func(ctx context.Context, report Reporter) error
}

func (f Func) Name() string { return f.TaskName }

func (f Func) Run(ctx context.Context, report Reporter) error { return f.Fn(ctx, report) }

// Step binds a task to the reporter that receives its progress.
type Step struct {
	Task   Task
	Report Reporter
}

// Stage is a group of steps that run concurrently.
type Stage []Step

// Error identifies the task that failed a composite run.
type Error struct {
	Task string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Task, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

type Runner struct {
	log zerolog.Logger
}

func NewRunner() *Runner {
	return &Runner{
		log: log.With().Str("component", "tasks").Logger(),
	}
}

// Run executes stages in order. The first failing task cancels its siblings and
// ends the run immediately; later stages never start.
func (r *Runner) Run(ctx context.Context, stages ...Stage) error {
	for i, stage := range stages {
		if err := r.runStage(ctx, stage); err != nil {
			r.log.Debug().Err(err).Int("stage", i).Msg("Stage failed")
			return err
		}
	}
	return nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	failed := make(chan error, len(stage))

	for _, step := range stage {
		step := step
		report := step.Report
		if report == nil {
			report = func(Progress) {}
		}
		g.Go(func() error {
			r.log.Debug().Str("task", step.Task.Name()).Msg("Task started")
			if err := step.Task.Run(gctx, report); err != nil {
				err = &Error{Task: step.Task.Name(), Err: err}
				failed <- err
				return err
			}
			r.log.Debug().Str("task", step.Task.Name()).Msg("Task finished")
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case err := <-failed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
