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
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PextraCloud/pce-cli/internal/errs"
)

// Environment variable selecting trace logging
const debugEnv = "PCE_DEBUG"

type globalOptions struct {
	profile  string
	url      string
	account  string
	keyID    string
	keyPath  string
	insecure bool
	verbose  bool
	timeout  time.Duration
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "pce",
		Short: "CLI tool for working with Pextra Cloud Environment images.",
		Long: `pce is a CLI for managing images on a Pextra Cloud Environment
control plane. It talks to CloudAPI, or to a local OCI image
layout when the configured URL is a file:// URL.

Copyright (C) 2025 Pextra Inc. This tool is licensed
under the Apache License, Version 2.0.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE:          groupRunE,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(stderr, opts.verbose, os.Getenv(debugEnv))
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errs.Usage("%v", err)
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.profile, "profile", "", "Profile file (default $PCE_PROFILE or ~/.pce/profile.yaml)")
	flags.StringVarP(&opts.url, "url", "U", "", "CloudAPI URL, or file:///path for a local image layout")
	flags.StringVarP(&opts.account, "account", "a", "", "Account (login) name")
	flags.StringVarP(&opts.keyID, "key-id", "k", "", "SSH key fingerprint")
	flags.StringVar(&opts.keyPath, "key-path", "", "Private key file (default: use ssh-agent)")
	flags.BoolVarP(&opts.insecure, "insecure", "i", false, "Do not validate the CloudAPI TLS certificate")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose logging to stderr")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Give up on the command after this long, e.g. 30s (default: no limit)")

	rootCmd.AddCommand(newImageCmd(opts))
	return rootCmd
}

// Commands that only group subcommands show their help, and reject
// anything that is not a known subcommand.
func groupRunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errs.Usage("unknown command %q for %q", args[0], cmd.CommandPath())
	}
	return cmd.Help()
}

func configureLogging(w io.Writer, verbose bool, debug string) {
	logrus.SetOutput(w)
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	level := logrus.WarnLevel
	if verbose {
		level = logrus.DebugLevel
	}
	if strings.EqualFold(debug, "trace") {
		level = logrus.TraceLevel
	}
	logrus.SetLevel(level)
}

// Runs the command line and returns the process exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	c, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}

	if c == nil {
		c = rootCmd
	}
	fmt.Fprintf(stderr, "%s: %s\n", c.CommandPath(), errs.Message(err))
	switch errs.KindOf(err) {
	case errs.KindUsage:
		fmt.Fprintf(stderr, "See '%s --help'.\n", c.CommandPath())
	case errs.KindSetup, errs.KindResolution, errs.KindRemoteAction, errs.KindInternal:
	}
	logrus.WithFields(logrus.Fields{
		"kind": errs.KindOf(err).String(),
	}).WithError(err).Debug("command failed")
	return errs.ExitCode(err)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
