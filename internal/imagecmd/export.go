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
package imagecmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PextraCloud/pce-cli/internal/errs"
	"github.com/PextraCloud/pce-cli/internal/images"
	"github.com/PextraCloud/pce-cli/internal/pipeline"
)

// ExportContext is the context record of "image export".
type ExportContext struct {
	Resolved
	// Path is set by export-image. It stays nil after a dry run.
	Path *images.ExportPath
}

// ExportOptions are the arguments and flags of "image export".
type ExportOptions struct {
	Ref       string
	MantaPath string
	DryRun    bool
	JSON      bool
	Out       io.Writer
	// Timeout bounds the whole run; zero means no bound.
	Timeout time.Duration
}

type dryRunResult struct {
	DryRun    bool   `json:"dry_run"`
	ID        string `json:"id"`
	MantaPath string `json:"manta_path"`
}

// ExportPipeline returns the task list of "image export":
// setup, get-image, export-image, output.
func ExportPipeline(setup SessionFunc, opts ExportOptions) *pipeline.Pipeline[ExportContext] {
	return pipeline.New(
		SetupTask[ExportContext](setup),
		GetImageTask[ExportContext](opts.Ref),
		ExportImageTask(opts),
		RenderExportTask(opts),
	).WithTimeout(opts.Timeout).WithLogger(logrus.WithField("command", "image export"))
}

// Export runs "image export" and returns its result.
func Export(ctx context.Context, setup SessionFunc, opts ExportOptions) error {
	return run[ExportContext](ctx, ExportPipeline(setup, opts))
}

// ExportImageTask asks the control plane to export the resolved image. On a
// dry run it only announces the export.
func ExportImageTask(opts ExportOptions) pipeline.Task[ExportContext] {
	return pipeline.Func("export-image", func(ctx context.Context, c *ExportContext) error {
		logrus.WithField("image", c.Image).Trace("exporting image")
		if !opts.JSON {
			fmt.Fprintf(opts.Out, "Exporting image %s to %s\n", c.Image, opts.MantaPath)
		}
		if opts.DryRun {
			return nil
		}
		path, err := c.Session.ExportImage(ctx, c.Image.ID, opts.MantaPath)
		if err != nil {
			return errs.RemoteAction(err, "error exporting image to manta")
		}
		c.Path = path
		return nil
	})
}

// RenderExportTask prints where the image was exported.
func RenderExportTask(opts ExportOptions) pipeline.Task[ExportContext] {
	return pipeline.Func("output", func(_ context.Context, c *ExportContext) error {
		if c.Path == nil {
			if opts.JSON {
				return writeJSON(opts.Out, dryRunResult{DryRun: true, ID: c.Image.ID, MantaPath: opts.MantaPath})
			}
			_, err := fmt.Fprintf(opts.Out, "Dry run: image %s (%s) not exported to %s\n", c.Image, c.Image.ID, opts.MantaPath)
			return err
		}
		if opts.JSON {
			return writeJSON(opts.Out, c.Path)
		}
		_, err := fmt.Fprintf(opts.Out, "Manta URL: %s\nManifest path: %s\nImage path: %s\n",
			c.Path.MantaURL, c.Path.ManifestPath, c.Path.ImagePath)
		return err
	})
}

// writeJSON writes v as a single line.
func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
