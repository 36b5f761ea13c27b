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
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/PextraCloud/pce-cli/internal/errs"
)

// Help shared by the commands taking an IMAGE argument
const imageArgHelp = `Where "IMAGE" is an image id (a full UUID), an image name (selects the
latest, by "published_at", image with that name), an image "name@version"
(selects latest match by "published_at"), or an image short ID (ID prefix).`

func newImageCmd(opts *globalOptions) *cobra.Command {
	imageCmd := &cobra.Command{
		Use:     "image",
		Aliases: []string{"images", "img"},
		Short:   "List, get and export images",
		Args:    cobra.ArbitraryArgs,
		RunE:    groupRunE,
	}
	imageCmd.AddCommand(newImageExportCmd(opts), newImageGetCmd(opts))
	return imageCmd
}

// Checks the argument count before anything else runs
func exactArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return errs.Usage("incorrect number of args: expect %d, got %d", n, len(args))
		}
		return nil
	}
}
