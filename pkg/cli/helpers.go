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
	"fmt"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
	"github.com/traindb-project/traindb-ml/pkg/k8s/client"
	"github.com/traindb-project/traindb-ml/pkg/metadata"
	"github.com/traindb-project/traindb-ml/pkg/metrics"
	"github.com/traindb-project/traindb-ml/pkg/serializer"
)

func outputFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output file path (default: stdout)",
	}
}

func formatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"t"},
		Value:   string(serializer.FormatYAML),
		Usage:   fmt.Sprintf("Output format (supported values: %s)", strings.Join(serializer.SupportedFormats(), ", ")),
		Sources: cli.EnvVars("TDBML_FORMAT"),
	}
}

func runIDFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "run-id",
		Usage: "Run identifier to label created resources with (default: generated)",
	}
}

// newClients builds cluster clients. Tests replace it with fakes.
var newClients = client.Get

func namespaceFlag(value string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "namespace",
		Aliases: []string{"n"},
		Usage:   "Kubernetes namespace",
		Value:   value,
		Sources: cli.EnvVars("TDBML_NAMESPACE"),
	}
}

// clients returns cluster clients for the --kubeconfig flag.
func clients(cmd *cli.Command) (*client.Clients, error) {
	c, err := newClients(cmd.String("kubeconfig"))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUnavailable, "failed to create kubernetes clients", err)
	}
	return c, nil
}

// tracked wraps action so its outcome is recorded under operation.
func tracked(operation string, action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		done := metrics.Track(operation)
		err := action(ctx, cmd)
		done(err)
		if err != nil {
			slog.Debug("operation failed", "operation", operation, "error", err)
		}
		return err
	}
}

// parseOutputFormat returns the --format value; unlike serializer.ParseFormat
// an empty value is rejected.
func parseOutputFormat(cmd *cli.Command) (serializer.Format, error) {
	raw := cmd.String("format")
	if strings.TrimSpace(raw) == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidRequest, "output format is required")
	}
	return serializer.ParseFormat(raw)
}

// writeResult serializes v in the --format to the --output file or the
// command writer.
func writeResult(ctx context.Context, cmd *cli.Command, v any) error {
	return writeResultTo(ctx, cmd, cmd.String("output"), v)
}

func writeResultTo(ctx context.Context, cmd *cli.Command, path string, v any) error {
	format, err := parseOutputFormat(cmd)
	if err != nil {
		return err
	}

	if strings.TrimSpace(path) == "" {
		return serializer.NewWriter(format, cmd.Root().Writer).Serialize(ctx, v)
	}

	w, err := serializer.NewFileWriter(format, path)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			slog.Warn("failed to close output file", "path", path, "error", err)
		}
	}()
	return w.Serialize(ctx, v)
}

// runID returns the --run-id value or a new identifier.
func runID(cmd *cli.Command) (string, error) {
	id := cmd.String("run-id")
	if id == "" {
		return metadata.NewRunID(), nil
	}
	if !metadata.IsRunID(id) {
		return "", apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "run id must be a UUID",
			map[string]any{"runID": id})
	}
	return id, nil
}

// parseKeyValues parses repeated key=value flags.
func parseKeyValues(flag string, values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		k, val, ok := strings.Cut(v, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest,
				fmt.Sprintf("invalid --%s value, expected key=value", flag), map[string]any{"value": v})
		}
		out[k] = val
	}
	return out, nil
}

// argOrFlag returns the first positional argument, or the named flag.
func argOrFlag(cmd *cli.Command, flag string) (string, error) {
	if v := cmd.Args().First(); v != "" {
		return v, nil
	}
	if v := cmd.String(flag); v != "" {
		return v, nil
	}
	return "", apperrors.New(apperrors.ErrCodeInvalidRequest, fmt.Sprintf("%s is required", flag))
}
