// Copyright 2023 The TrainDB-ML Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/traindb-project/traindb-ml/pkg/logging"
	"github.com/traindb-project/traindb-ml/pkg/metrics"
)

const (
	name           = "tdbml"
	versionDefault = "dev"
)

const (
	exitOK          = 0
	exitFailed      = 1
	exitInterrupted = 2
)

var (
	// overridden during build with ldflags
	version = versionDefault
	commit  = "unknown"
	date    = "unknown"
)

// Execute runs the tdbml command tree and exits the process with its status.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())

	// Handle SIGINT/SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down gracefully...")
		cancel()
	}()

	code := exitCode(ctx, newRootCmd().Run(ctx, os.Args))
	signal.Stop(sigCh)
	cancel()
	os.Exit(code)
}

// exitCode reports err on stderr and maps it to a process exit code.
func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	return exitFailed
}

func newRootCmd() *cli.Command {
	return &cli.Command{
		Name:                  name,
		Usage:                 "TrainDB-ML platform tooling",
		Version:               fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		EnableShellCompletion: true,
		Description: `Operations glue for serving and training learned models on Kubernetes:

storage    - persistent volume and claim setup for model files
dockerfile - container file generation for model servers
image      - container image build and push
serve      - KServe InferenceService registration and prediction
pipeline   - pipeline compilation to an Argo Workflow package
train      - Kubeflow PyTorchJob submission and monitoring`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("TDBML_LOG_LEVEL", logging.EnvVarLogLevel),
			},
			&cli.StringFlag{
				Name:    "kubeconfig",
				Usage:   "Path to kubeconfig file (default: KUBECONFIG, ~/.kube/config, in-cluster)",
				Sources: cli.EnvVars("TDBML_KUBECONFIG", "KUBECONFIG"),
			},
			&cli.StringFlag{
				Name:    "metrics-file",
				Usage:   "Write operation metrics in Prometheus text format to this file on exit",
				Sources: cli.EnvVars("TDBML_METRICS_FILE"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logging.SetDefaultStructuredLoggerWithLevel(name, version, cmd.String("log-level"))
			slog.Debug("starting",
				"name", name,
				"version", version,
				"commit", commit,
				"date", date)
			return ctx, nil
		},
		After: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.String("metrics-file")
			if path == "" {
				return nil
			}
			return metrics.WriteFile(path)
		},
		Commands: []*cli.Command{
			storageCmd(),
			dockerfileCmd(),
			imageCmd(),
			serveCmd(),
			pipelineCmd(),
			trainCmd(),
		},
	}
}
