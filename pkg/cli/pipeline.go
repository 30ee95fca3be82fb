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
	"log/slog"
	"sort"

	ociv1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/urfave/cli/v3"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	"github.com/traindb-project/traindb-ml/pkg/oci"
	"github.com/traindb-project/traindb-ml/pkg/pipeline"
)

// compileResult is printed after a successful compile.
type compileResult struct {
	Pipeline string            `json:"pipeline" yaml:"pipeline"`
	RunID    string            `json:"runId" yaml:"runId"`
	Archive  string            `json:"archive" yaml:"archive"`
	Steps    []string          `json:"steps" yaml:"steps"`
	Params   map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Pushed   *oci.PushResult   `json:"pushed,omitempty" yaml:"pushed,omitempty"`
}

func pipelineCmd() *cli.Command {
	return &cli.Command{
		Name:  "pipeline",
		Usage: "Compile training pipelines",
		Commands: []*cli.Command{
			pipelineCompileCmd(),
		},
	}
}

func pipelineCompileCmd() *cli.Command {
	return &cli.Command{
		Name:  "compile",
		Usage: "Compile a pipeline into an Argo Workflow package",
		Description: `Compiles the pipeline definition in --file, or the built-in pytorch-mnist
pipeline, into a tar.gz package holding pipeline.yaml. Parameter defaults can be
overridden with --param name=value. --push uploads the package to an OCI registry:

  tdbml pipeline compile --push oci://registry.example.com/pipelines/pytorch-mnist:v1`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Pipeline definition YAML (default: built-in " + pipeline.MNISTName + ")",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Package path (default: <pipeline>.tar.gz)",
			},
			&cli.StringSliceFlag{
				Name:  "param",
				Usage: "Override a parameter default (format: name=value, can be repeated)",
			},
			&cli.StringFlag{
				Name:  "push",
				Usage: "Push the package to oci://registry/repository[:tag]",
			},
			&cli.BoolFlag{
				Name:  "plain-http",
				Usage: "Use HTTP for the registry connection",
			},
			&cli.BoolFlag{
				Name:  "insecure-tls",
				Usage: "Skip registry TLS certificate verification",
			},
			runIDFlag(),
			formatFlag(),
		},
		Action: tracked("pipeline.compile", func(ctx context.Context, cmd *cli.Command) error {
			p, err := loadPipeline(cmd.String("file"))
			if err != nil {
				return err
			}

			params, err := parseKeyValues("param", cmd.StringSlice("param"))
			if err != nil {
				return err
			}
			for _, k := range sortedKeys(params) {
				if err := p.SetParameter(k, params[k]); err != nil {
					return err
				}
			}

			id, err := runID(cmd)
			if err != nil {
				return err
			}

			var target *oci.Reference
			if push := cmd.String("push"); push != "" {
				if target, err = oci.ParseTarget(push); err != nil {
					return err
				}
			}

			wf, err := pipeline.Compile(p, id)
			if err != nil {
				return err
			}

			archive := cmd.String("output")
			if archive == "" {
				archive = p.Name + ".tar.gz"
			}
			if err := pipeline.WriteArchiveFile(archive, wf); err != nil {
				return err
			}
			slog.Info("pipeline compiled", "pipeline", p.Name, "archive", archive, "runID", id)

			order, err := p.TopologicalOrder()
			if err != nil {
				return err
			}
			res := compileResult{
				Pipeline: p.Name,
				RunID:    id,
				Archive:  archive,
				Params:   params,
			}
			for _, s := range order {
				res.Steps = append(res.Steps, s.Name)
			}

			if target != nil {
				pushCtx, cancel := context.WithTimeout(ctx, defaults.ArtifactPushTimeout)
				defer cancel()

				res.Pushed, err = oci.PushFile(pushCtx, oci.PushOptions{
					File:        archive,
					Reference:   target,
					PlainHTTP:   cmd.Bool("plain-http"),
					InsecureTLS: cmd.Bool("insecure-tls"),
					Annotations: map[string]string{
						ociv1.AnnotationTitle:       p.Name,
						ociv1.AnnotationDescription: p.Description,
						ociv1.AnnotationVersion:     version,
						defaults.LabelRunID:         id,
					},
				})
				if err != nil {
					return err
				}
			}

			return writeResultTo(ctx, cmd, "", res)
		}),
	}
}

// loadPipeline reads path, or returns the built-in pipeline when path is empty.
func loadPipeline(path string) (*pipeline.Pipeline, error) {
	if path == "" {
		return pipeline.PyTorchMNIST(), nil
	}
	return pipeline.Load(path)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
