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

	"github.com/PextraCloud/pce-cli/internal/imagecmd"
)

func newImageExportCmd(opts *globalOptions) *cobra.Command {
	var (
		isJson bool
		dryRun bool
	)
	exportCmd := &cobra.Command{
		Use:   "export [OPTIONS] IMAGE MANTA_PATH",
		Short: "Export an image",
		Long:  "Export an image to MANTA_PATH in the account's object store.\n\n" + imageArgHelp,
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return imagecmd.Export(cmd.Context(), sessionSetup(opts), imagecmd.ExportOptions{
				Ref:       args[0],
				MantaPath: args[1],
				DryRun:    dryRun,
				JSON:      isJson,
				Out:       cmd.OutOrStdout(),
				Timeout:   opts.timeout,
			})
		},
	}
	exportCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Go through the motions without actually exporting")
	exportCmd.Flags().BoolVarP(&isJson, "json", "j", false, "Output information in JSON format")
	return exportCmd
}
