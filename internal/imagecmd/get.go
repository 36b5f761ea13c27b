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
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PextraCloud/pce-cli/internal/pipeline"
)

// GetContext is the context record of "image get".
type GetContext struct {
	Resolved
}

// GetOptions are the arguments and flags of "image get".
type GetOptions struct {
	Ref     string
	JSON    bool
	Out     io.Writer
	Timeout time.Duration
}

// GetPipeline returns the task list of "image get": setup, get-image,
// output.
func GetPipeline(setup SessionFunc, opts GetOptions) *pipeline.Pipeline[GetContext] {
	return pipeline.New(
		SetupTask[GetContext](setup),
		GetImageTask[GetContext](opts.Ref),
		RenderImageTask(opts),
	).WithTimeout(opts.Timeout).WithLogger(logrus.WithField("command", "image get"))
}

// Get runs "image get" and returns its result.
func Get(ctx context.Context, setup SessionFunc, opts GetOptions) error {
	return run[GetContext](ctx, GetPipeline(setup, opts))
}

// RenderImageTask prints the resolved image.
func RenderImageTask(opts GetOptions) pipeline.Task[GetContext] {
	return pipeline.Func("output", func(_ context.Context, c *GetContext) error {
		if opts.JSON {
			return writeJSON(opts.Out, c.Image)
		}
		img := c.Image
		published := "-"
		if img.PublishedAt != nil {
			published = img.PublishedAt.UTC().Format(time.RFC3339)
		}
		tw := tabwriter.NewWriter(opts.Out, 0, 0, 2, ' ', 0)
		rows := [][2]string{
			{"ID", img.ID},
			{"NAME", img.Name},
			{"VERSION", img.Version},
			{"TYPE", orDash(img.Type)},
			{"OS", orDash(img.OS)},
			{"STATE", orDash(img.State)},
			{"PUBLISHED", published},
		}
		for _, r := range rows {
			fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1])
		}
		return tw.Flush()
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
