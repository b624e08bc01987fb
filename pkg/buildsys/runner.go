package buildsys

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/ngld/sitebuild/pkg/sitelog"
)

// State is the execution state of a task within a run
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// TaskError is returned for each task that failed during a run
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Report describes the outcome of a run
type Report struct {
	// Plan is the order tasks were scheduled in
	Plan      []string
	States    map[string]State
	Durations map[string]time.Duration

	errors map[string]error
}

// Failed lists the failed tasks in plan order
func (r *Report) Failed() []string {
	return r.filter(Failed)
}

// Skipped lists the tasks that never started in plan order
func (r *Report) Skipped() []string {
	return r.filter(Skipped)
}

// Err returns the error of a failed task, ErrSkipped for a skipped task and nil otherwise
func (r *Report) Err(name string) error {
	switch r.States[name] {
	case Failed:
		return r.errors[name]
	case Skipped:
		return ErrSkipped
	}
	return nil
}

func (r *Report) filter(state State) []string {
	result := []string{}
	for _, name := range r.Plan {
		if r.States[name] == state {
			result = append(result, name)
		}
	}
	return result
}

// Runner executes tasks from a graph
type Runner struct {
	Graph *Graph
	// Jobs is the maximum number of concurrently running actions
	Jobs int
	// DryRun only logs the plan
	DryRun bool
}

type taskDone struct {
	name     string
	err      error
	duration time.Duration
}

func runAction(ctx context.Context, task *Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = eris.Errorf("task panicked: %v", rec)
		}
	}()

	return task.Action(ctx)
}

// Run executes the targets and their dependencies. Tasks whose dependencies are done run
// concurrently. Once a task failed, tasks depending on it are skipped while tasks that already
// started are allowed to finish. The returned error combines a TaskError for every failed task.
func (r *Runner) Run(ctx context.Context, targets ...string) (*Report, error) {
	plan, err := r.Graph.Plan(targets...)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Plan:      plan,
		States:    make(map[string]State, len(plan)),
		Durations: make(map[string]time.Duration, len(plan)),
		errors:    make(map[string]error),
	}
	inPlan := make(map[string]bool, len(plan))
	for _, name := range plan {
		report.States[name] = Pending
		inPlan[name] = true
	}

	jobs := r.Jobs
	if jobs < 1 {
		jobs = 1
	}
	sem := semaphore.NewWeighted(int64(jobs))
	done := make(chan taskDone)
	running := 0
	var errs error

	for {
		canceled := ctx.Err() != nil

		for _, name := range plan {
			if report.States[name] != Pending {
				continue
			}
			task, _ := r.Graph.Task(name)

			if canceled {
				report.States[name] = Skipped
				continue
			}

			ready := true
			blocked := ""
			for _, dep := range task.Deps {
				switch report.States[dep] {
				case Succeeded:
				case Failed, Skipped:
					blocked = dep
				default:
					ready = false
				}
			}
			for _, after := range task.After {
				if !inPlan[after] {
					continue
				}
				switch report.States[after] {
				case Failed, Skipped:
					blocked = after
				case Pending, Running:
					ready = false
				}
			}

			if blocked != "" {
				report.States[name] = Skipped
				sitelog.Log(ctx).Warn().
					Str("task", name).
					Str("dependency", blocked).
					Msg(ErrSkipped.Error())
				continue
			}
			if !ready {
				continue
			}

			report.States[name] = Running
			running++
			go r.start(ctx, sem, task, done)
		}

		if running == 0 {
			break
		}

		result := <-done
		running--
		report.Durations[result.name] = result.duration
		if result.err != nil {
			report.States[result.name] = Failed
			report.errors[result.name] = result.err
			errs = multierr.Append(errs, &TaskError{Task: result.name, Err: result.err})
		} else {
			report.States[result.name] = Succeeded
		}
	}

	if err := ctx.Err(); err != nil && len(report.Skipped()) > 0 {
		errs = multierr.Append(errs, err)
	}

	return report, errs
}

func (r *Runner) start(ctx context.Context, sem *semaphore.Weighted, task *Task, done chan<- taskDone) {
	taskCtx := sitelog.WithTask(ctx, task.Name)
	logger := sitelog.Log(taskCtx)

	if err := sem.Acquire(ctx, 1); err != nil {
		done <- taskDone{name: task.Name, err: err}
		return
	}
	defer sem.Release(1)

	if r.DryRun || task.Action == nil {
		if r.DryRun {
			logger.Info().Msg("would run")
		}
		done <- taskDone{name: task.Name}
		return
	}

	logger.Info().Msg("started")
	start := time.Now()
	err := runAction(taskCtx, task)
	duration := time.Since(start)

	if err != nil {
		logger.Error().Err(err).Dur("duration", duration).Msg("failed")
	} else {
		logger.Info().Dur("duration", duration).Msg("finished")
	}

	done <- taskDone{name: task.Name, err: err, duration: duration}
}
