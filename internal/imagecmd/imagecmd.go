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

// Package imagecmd binds the image subcommands onto the pipeline runner.
//
// Each command is a fixed list of tasks over a typed context record:
// setup opens the control-plane session, get-image resolves the image
// reference, then the command's action and rendering tasks run. The first
// failing task ends the run and its error, classified by package errs, is
// the command's result.
package imagecmd

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/PextraCloud/pce-cli/internal/errs"
	"github.com/PextraCloud/pce-cli/internal/images"
	"github.com/PextraCloud/pce-cli/internal/pipeline"
)

// Session is an authenticated control-plane session.
type Session interface {
	// GetImage resolves ref (id, name, name@version or short id).
	GetImage(ctx context.Context, ref string) (*images.Image, error)
	// ExportImage exports image id to mantaPath.
	ExportImage(ctx context.Context, id, mantaPath string) (*images.ExportPath, error)
}

// SessionFunc opens a Session.
type SessionFunc func(ctx context.Context) (Session, error)

// Resolved holds the post-conditions shared by every image command.
type Resolved struct {
	// Session is set by the setup task.
	Session Session
	// Image is set by the get-image task.
	Image *images.Image
}

func (r *Resolved) resolved() *Resolved { return r }

type resolver[C any] interface {
	*C
	resolved() *Resolved
}

// SetupTask opens the session. Failures are setup errors.
func SetupTask[C any, P resolver[C]](setup SessionFunc) pipeline.Task[C] {
	return pipeline.Func("setup", func(ctx context.Context, c *C) error {
		s, err := setup(ctx)
		if err != nil {
			return errs.Setup(err)
		}
		P(c).resolved().Session = s
		return nil
	})
}

// GetImageTask resolves ref through the session. Failures are resolution
// errors carrying ref, unless the session already classified them, as it
// does for rejected credentials.
func GetImageTask[C any, P resolver[C]](ref string) pipeline.Task[C] {
	return pipeline.Func("get-image", func(ctx context.Context, c *C) error {
		r := P(c).resolved()
		img, err := r.Session.GetImage(ctx, ref)
		if err != nil {
			return errs.Resolution(ref, err)
		}
		logrus.WithFields(logrus.Fields{"image": img.ID, "ref": ref}).Trace("image resolved")
		r.Image = img
		return nil
	})
}

// closeSession releases sessions holding resources, such as an ssh-agent
// connection.
func closeSession(s Session) {
	c, ok := s.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logrus.WithError(err).Debug("closing session")
	}
}

// run executes p and releases the session opened by setup, whatever the
// outcome.
func run[C any, P resolver[C]](ctx context.Context, p *pipeline.Pipeline[C]) error {
	c := new(C)
	var outcome pipeline.Outcome
	p.RunWithCallback(ctx, c, func(o pipeline.Outcome) { outcome = o })
	if s := P(c).resolved().Session; s != nil {
		closeSession(s)
	}
	return outcome.Err
}
