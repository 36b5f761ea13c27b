/*
Copyright 2025 Pextra Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pipeline runs an ordered list of tasks against one shared context
// value. Execution is strictly sequential and stops at the first failure.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrCanceled is returned when the run context ends before a task starts.
	ErrCanceled = errors.New("pipeline canceled")
	// ErrPanic is returned when a task panics.
	ErrPanic = errors.New("task panicked")
)

// TaskError reports the task that ended a run. It unwraps to the error the
// task returned.
type TaskError struct {
	Task  string
	Index int
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Outcome is the terminal result of a run. A nil Err means every task
// completed.
type Outcome struct {
	Err error
}

// Succeeded reports whether every task completed without error.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// Pipeline executes a fixed sequence of tasks over a *C.
type Pipeline[C any] struct {
	tasks   []Task[C]
	timeout time.Duration
	log     logrus.FieldLogger
}

// New creates a Pipeline from the given tasks. The order is fixed here.
func New[C any](tasks ...Task[C]) *Pipeline[C] {
	return &Pipeline[C]{
		tasks: append([]Task[C](nil), tasks...),
		log:   logrus.StandardLogger(),
	}
}

// WithTimeout bounds the whole run. Zero disables the bound.
func (p *Pipeline[C]) WithTimeout(d time.Duration) *Pipeline[C] {
	p.timeout = d
	return p
}

// WithLogger sets the logger used for task tracing.
func (p *Pipeline[C]) WithLogger(l logrus.FieldLogger) *Pipeline[C] {
	if l != nil {
		p.log = l
	}
	return p
}

// Names returns the task names in execution order.
func (p *Pipeline[C]) Names() []string {
	names := make([]string, len(p.tasks))
	for i, t := range p.tasks {
		names[i] = t.Name()
	}
	return names
}

// Run executes each task in order against c. It returns nil when all tasks
// succeed, or a *TaskError for the first task that failed; later tasks are
// never started.
func (p *Pipeline[C]) Run(ctx context.Context, c *C) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	for i, t := range p.tasks {
		log := p.log.WithFields(logrus.Fields{"task": t.Name(), "index": i})
		if err := ctx.Err(); err != nil {
			log.WithError(err).Debug("pipeline canceled")
			return &TaskError{Task: t.Name(), Index: i, Err: fmt.Errorf("%w before start: %w", ErrCanceled, err)}
		}

		start := time.Now()
		log.Trace("task start")
		if err := p.execute(ctx, t, c); err != nil {
			log.WithError(err).Debug("task failed")
			return &TaskError{Task: t.Name(), Index: i, Err: err}
		}
		log.WithField("elapsed", time.Since(start)).Trace("task done")
	}
	return nil
}

// RunWithCallback runs the pipeline and hands the Outcome to onDone. onDone
// is called exactly once, after the last task that ran has completed.
func (p *Pipeline[C]) RunWithCallback(ctx context.Context, c *C, onDone func(Outcome)) {
	onDone(Outcome{Err: p.Run(ctx, c)})
}

func (p *Pipeline[C]) execute(ctx context.Context, t Task[C], c *C) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"task":  t.Name(),
				"stack": string(debug.Stack()),
			}).Error("task panicked")
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return t.Execute(ctx, c)
}
