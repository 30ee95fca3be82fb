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
	"encoding/json"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
	"github.com/traindb-project/traindb-ml/pkg/serving"
)

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "model-type",
			Usage: "Model framework (e.g., pytorch)",
			Value: "pytorch",
		},
		&cli.StringFlag{
			Name:  "model-name",
			Usage: "Learned model name",
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "InferenceService name (default: derived from --model-type and --model-name)",
		},
		namespaceFlag(defaults.Namespace),
	}
}

// modelServer reads the model flags.
func modelServer(cmd *cli.Command) serving.ModelServer {
	return serving.ModelServer{
		ModelType: cmd.String("model-type"),
		ModelName: cmd.String("model-name"),
		ModelURI:  cmd.String("model-uri"),
	}
}

// serverName returns the InferenceService name from the positional
// argument, --name, or the model flags.
func serverName(cmd *cli.Command) (string, error) {
	if v := cmd.Args().First(); v != "" {
		return v, nil
	}
	if v := cmd.String("name"); v != "" {
		return v, nil
	}
	return modelServer(cmd).PodName()
}

func newRegistrar(cmd *cli.Command) (*serving.Registrar, error) {
	c, err := clients(cmd)
	if err != nil {
		return nil, err
	}
	return serving.NewRegistrar(c.Dynamic, serving.Config{
		WatchTimeout: cmd.Duration("watch-timeout"),
		ReadyTimeout: cmd.Duration("ready-timeout"),
	}), nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Manage KServe model servers",
		Commands: []*cli.Command{
			serveRegisterCmd(),
			serveStatusCmd(),
			serveDeleteCmd(),
			servePredictCmd(),
		},
	}
}

func serveRegisterCmd() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create an InferenceService for a learned model and wait until it is ready",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:     "storage-uri",
				Usage:    "Model storage URI (e.g., pvc://learned-model-claim/mnist)",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "watch-timeout",
				Usage: "How long to watch for readiness before polling",
				Value: defaults.ServingWatchTimeout,
			},
			&cli.DurationFlag{
				Name:  "ready-timeout",
				Usage: "How long to poll for readiness after the watch",
				Value: defaults.ServingReadyTimeout,
			},
			runIDFlag(),
			outputFlag(),
			formatFlag(),
		),
		Action: tracked("serve.register", func(ctx context.Context, cmd *cli.Command) error {
			id, err := runID(cmd)
			if err != nil {
				return err
			}
			server := modelServer(cmd)
			server.RunID = id

			r, err := newRegistrar(cmd)
			if err != nil {
				return err
			}
			st, err := r.Register(ctx, server, cmd.String("namespace"), cmd.String("storage-uri"))
			if err != nil {
				return err
			}
			return writeResult(ctx, cmd, st)
		}),
	}
}

func serveStatusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the readiness, URL and conditions of an InferenceService",
		ArgsUsage: "[NAME]",
		Flags:     append(modelFlags(), outputFlag(), formatFlag()),
		Action: tracked("serve.status", func(ctx context.Context, cmd *cli.Command) error {
			name, err := serverName(cmd)
			if err != nil {
				return err
			}
			r, err := newRegistrar(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, defaults.K8sAPITimeout)
			defer cancel()

			st, err := r.Status(ctx, name, cmd.String("namespace"))
			if err != nil {
				return err
			}
			return writeResult(ctx, cmd, st)
		}),
	}
}

func serveDeleteCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete an InferenceService",
		ArgsUsage: "[NAME]",
		Flags:     modelFlags(),
		Action: tracked("serve.delete", func(ctx context.Context, cmd *cli.Command) error {
			name, err := serverName(cmd)
			if err != nil {
				return err
			}
			r, err := newRegistrar(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, defaults.K8sAPITimeout)
			defer cancel()
			return r.Delete(ctx, name, cmd.String("namespace"))
		}),
	}
}

func servePredictCmd() *cli.Command {
	return &cli.Command{
		Name:      "predict",
		Usage:     "Send instances to a model server and print the predictions",
		ArgsUsage: "[NAME]",
		Description: `Reads a JSON array of instances from --input (or stdin) and posts them to
<url>/v1/models/<model>:predict. Without --model-uri the URL is read from the
InferenceService status.`,
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:  "model-uri",
				Usage: "Base URL of the model server (default: InferenceService status URL)",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Model name in the prediction path (default: InferenceService name)",
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"f"},
				Usage:   "File with a JSON array of instances (default: stdin)",
			},
			&cli.FloatFlag{
				Name:  "qps",
				Usage: "Maximum prediction requests per second (0: unlimited)",
			},
			&cli.IntFlag{
				Name:  "burst",
				Usage: "Request burst allowed above --qps",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Maximum instances per request (0: all in one request)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout of each prediction request",
				Value: defaults.PredictTimeout,
			},
			outputFlag(),
			formatFlag(),
		),
		Action: tracked("serve.predict", func(ctx context.Context, cmd *cli.Command) error {
			instances, err := readInstances(cmd.String("input"), cmd.Root().Reader)
			if err != nil {
				return err
			}

			name, err := serverName(cmd)
			if err != nil {
				return err
			}
			baseURL := cmd.String("model-uri")
			if baseURL == "" {
				if baseURL, err = statusURL(ctx, cmd, name); err != nil {
					return err
				}
			}
			model := cmd.String("model")
			if model == "" {
				model = name
			}

			p := serving.NewPredictor(baseURL, model,
				serving.WithRateLimit(cmd.Float("qps"), int(cmd.Int("burst"))),
				serving.WithBatchSize(int(cmd.Int("batch-size"))),
				serving.WithTimeout(cmd.Duration("timeout")),
			)
			predictions, err := p.Predict(ctx, instances)
			if err != nil {
				return err
			}
			return writeResult(ctx, cmd, map[string]any{"predictions": predictions})
		}),
	}
}

// statusURL reads the serving URL of InferenceService name.
func statusURL(ctx context.Context, cmd *cli.Command, name string) (string, error) {
	r, err := newRegistrar(cmd)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, defaults.K8sAPITimeout)
	defer cancel()

	st, err := r.Status(ctx, name, cmd.String("namespace"))
	if err != nil {
		return "", err
	}
	if !st.Ready || st.URL == "" {
		return "", apperrors.NewWithContext(apperrors.ErrCodeUnavailable, "model server is not ready",
			map[string]any{"name": name, "namespace": st.Namespace})
	}
	return st.URL, nil
}

// readInstances decodes a JSON array from path, or from stdin when path is
// empty or "-".
func readInstances(path string, stdin io.Reader) ([]any, error) {
	var r io.Reader = stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, apperrors.WrapWithContext(apperrors.ErrCodeNotFound, "failed to open input", err,
				map[string]any{"path": path})
		}
		defer f.Close()
		r = f
	}
	if r == nil {
		r = os.Stdin
	}

	var instances []any
	if err := json.NewDecoder(r).Decode(&instances); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "input must be a JSON array of instances", err)
	}
	return instances, nil
}
