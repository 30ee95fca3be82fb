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
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	"github.com/traindb-project/traindb-ml/pkg/dockerfile"
	"github.com/traindb-project/traindb-ml/pkg/image"
)

func dockerfileCmd() *cli.Command {
	return &cli.Command{
		Name:  "dockerfile",
		Usage: "Generate container files for model servers",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Write a Dockerfile and requirements.txt for a model source directory",
				Description: `Finds the model source file in --dir (main.py, then app.py, otherwise the last
file in name order, skipping .dockerignore matches), writes a Dockerfile that runs it
and freezes the current Python requirements into requirements.txt.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Model source directory",
						Value: ".",
					},
					&cli.StringFlag{
						Name:    "base-image",
						Usage:   "Base image of the container file",
						Value:   defaults.BaseImage,
						Sources: cli.EnvVars("TDBML_BASE_IMAGE"),
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "Source file to run (default: discovered in --dir)",
					},
					&cli.StringFlag{
						Name:  "extension",
						Usage: "Extension of model source files",
						Value: defaults.SourceExtension,
					},
					&cli.StringFlag{
						Name:  "freeze-command",
						Usage: "Command printing the requirements",
						Value: strings.Join(dockerfile.DefaultFreezeCommand, " "),
					},
					&cli.BoolFlag{
						Name:  "skip-freeze",
						Usage: "Keep the existing requirements.txt instead of freezing",
					},
					outputFlag(),
					formatFlag(),
				},
				Action: tracked("dockerfile.generate", func(ctx context.Context, cmd *cli.Command) error {
					res, err := dockerfile.Generate(ctx, dockerfile.Options{
						Dir:           cmd.String("dir"),
						BaseImage:     cmd.String("base-image"),
						Source:        cmd.String("source"),
						Extension:     cmd.String("extension"),
						FreezeCommand: strings.Fields(cmd.String("freeze-command")),
						SkipFreeze:    cmd.Bool("skip-freeze"),
					})
					if err != nil {
						return err
					}
					return writeResult(ctx, cmd, res)
				}),
			},
		},
	}
}

func imageCmd() *cli.Command {
	return &cli.Command{
		Name:  "image",
		Usage: "Build container images for model servers",
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "Append a model source directory to a base image and push it",
				Description: `Packs --context (filtered by .dockerignore) into a single layer on top of
--base-image, sets the working directory to /app and the command to run the model
source, then pushes the result to --target. --tarball writes a docker-loadable
tarball instead of pushing.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "context",
						Usage: "Build context directory",
						Value: ".",
					},
					&cli.StringFlag{
						Name:    "base-image",
						Usage:   "Base image to build on",
						Value:   defaults.BaseImage,
						Sources: cli.EnvVars("TDBML_BASE_IMAGE"),
					},
					&cli.StringFlag{
						Name:     "target",
						Usage:    "Reference of the built image",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "platform",
						Usage: "Platform of the base image as os/arch (e.g., linux/amd64)",
					},
					&cli.StringSliceFlag{
						Name:  "cmd",
						Usage: "Image command, one flag per argument (default: python /app/<source>)",
					},
					&cli.StringFlag{
						Name:  "tarball",
						Usage: "Write the image to this tarball instead of pushing",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Timeout for the build and push",
						Value: defaults.ImageBuildTimeout,
					},
					outputFlag(),
					formatFlag(),
				},
				Action: tracked("image.build", func(ctx context.Context, cmd *cli.Command) error {
					ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
					defer cancel()

					res, err := image.Build(ctx, image.Options{
						ContextDir: cmd.String("context"),
						BaseImage:  cmd.String("base-image"),
						Target:     cmd.String("target"),
						Platform:   cmd.String("platform"),
						Cmd:        cmd.StringSlice("cmd"),
						Tarball:    cmd.String("tarball"),
					})
					if err != nil {
						return err
					}
					return writeResult(ctx, cmd, res)
				}),
			},
		},
	}
}
