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
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNotCompleted is returned when an async task is released by its context
// before it called proceed.
var ErrNotCompleted = errors.New("task did not signal completion")

// Task is a single unit of work in a pipeline. Execute returning nil lets
// the next task start; any error aborts the run.
type Task[C any] interface {
	Name() string
	Execute(ctx context.Context, c *C) error
}

// Proceed signals that an async task has finished. It must be called
// exactly once, with nil to continue or an error to abort.
type Proceed func(err error)

type funcTask[C any] struct {
	name string
	fn   func(ctx context.Context, c *C) error
}

// Func adapts a plain function to a Task.
func Func[C any](name string, fn func(ctx context.Context, c *C) error) Task[C] {
	return &funcTask[C]{name: name, fn: fn}
}

func (t *funcTask[C]) Name() string { return t.name }

func (t *funcTask[C]) Execute(ctx context.Context, c *C) error {
	return t.fn(ctx, c)
}

type asyncTask[C any] struct {
	name string
	fn   func(ctx context.Context, c *C, proceed Proceed)
}

// Async adapts a callback-style function to a Task. The task completes on
// the first proceed call; later calls are logged and dropped. A task that
// never calls proceed is released when ctx is done.
func Async[C any](name string, fn func(ctx context.Context, c *C, proceed Proceed)) Task[C] {
	return &asyncTask[C]{name: name, fn: fn}
}

func (t *asyncTask[C]) Name() string { return t.name }

func (t *asyncTask[C]) Execute(ctx context.Context, c *C) error {
	done := make(chan error, 1)
	var calls atomic.Int32
	proceed := func(err error) {
		if calls.Add(1) > 1 {
			logrus.WithFields(logrus.Fields{
				"task":  t.name,
				"calls": calls.Load(),
			}).Warn("proceed called more than once, ignoring")
			return
		}
		done <- err
	}

	t.fn(ctx, c, proceed)

	// a synchronous proceed wins over a context that ended meanwhile
	select {
	case err := <-done:
		return err
	default:
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotCompleted, ctx.Err())
	}
}
