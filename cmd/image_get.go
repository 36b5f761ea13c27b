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

func newImageGetCmd(opts *globalOptions) *cobra.Command {
	var isJson bool
	getCmd := &cobra.Command{
		Use:   "get [OPTIONS] IMAGE",
		Short: "Get an image",
		Long:  "Show a single image.\n\n" + imageArgHelp,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return imagecmd.Get(cmd.Context(), sessionSetup(opts), imagecmd.GetOptions{
				Ref:     args[0],
				JSON:    isJson,
				Out:     cmd.OutOrStdout(),
				Timeout: opts.timeout,
			})
		},
	}
	getCmd.Flags().BoolVarP(&isJson, "json", "j", false, "Output information in JSON format")
	return getCmd
}
