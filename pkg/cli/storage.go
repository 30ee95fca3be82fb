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

	"github.com/urfave/cli/v3"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	"github.com/traindb-project/traindb-ml/pkg/k8s/manifest"
	"github.com/traindb-project/traindb-ml/pkg/storage"
)

func storageFlags() []cli.Flag {
	return []cli.Flag{
		namespaceFlag(defaults.Namespace),
		&cli.StringFlag{
			Name:    "conf-path",
			Usage:   "Directory holding the volume templates and rendered manifests",
			Value:   defaults.ConfPath,
			Sources: cli.EnvVars("TDBML_CONF_PATH"),
		},
		&cli.StringFlag{
			Name:    "host-path",
			Usage:   "Node directory backing the persistent volume",
			Value:   defaults.HostPath,
			Sources: cli.EnvVars("TDBML_HOST_PATH"),
		},
		&cli.StringFlag{
			Name:    "system-name",
			Usage:   "Value of the system label on created resources",
			Value:   defaults.SystemName,
			Sources: cli.EnvVars("TDBML_SYSTEM_NAME"),
		},
	}
}

func storageConfig(cmd *cli.Command) storage.Config {
	return storage.Config{
		ConfPath:        cmd.String("conf-path"),
		HostPath:        cmd.String("host-path"),
		SystemName:      cmd.String("system-name"),
		EnsureNamespace: cmd.Bool("ensure-namespace"),
	}
}

// newInitializer returns an Initializer bound to the cluster.
func newInitializer(cmd *cli.Command) (*storage.Initializer, error) {
	c, err := clients(cmd)
	if err != nil {
		return nil, err
	}
	return storage.NewInitializer(storageConfig(cmd), c.Kube, manifest.NewApplier(c.Dynamic, c.Mapper)), nil
}

func storageCmd() *cli.Command {
	return &cli.Command{
		Name:  "storage",
		Usage: "Manage model storage volumes and namespaces",
		Commands: []*cli.Command{
			storageInitCmd(),
			storageRenderCmd(),
			storageNamespaceCmd(),
		},
	}
}

func storageInitCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Render and apply the persistent volume and claim for a namespace",
		Description: `Renders <namespace>-pv.yaml and <namespace>-pvc.yaml from template-pv.yaml and
template-pvc.yaml in the configuration directory, then creates the volume and the claim.
Built-in templates are used when the configuration directory has none.`,
		Flags: append(storageFlags(),
			&cli.BoolFlag{
				Name:  "ensure-namespace",
				Usage: "Create the namespace before applying the claim",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Render the manifests and print them without applying",
			},
			outputFlag(),
			formatFlag(),
		),
		Action: tracked("storage.init", func(ctx context.Context, cmd *cli.Command) error {
			ns := cmd.String("namespace")

			if cmd.Bool("dry-run") {
				m, err := storage.NewInitializer(storageConfig(cmd), nil, nil).RenderManifests(ns)
				if err != nil {
					return err
				}
				return printManifests(cmd, m.PV, m.PVC)
			}

			si, err := newInitializer(cmd)
			if err != nil {
				return err
			}
			files, err := si.Init(ctx, ns)
			if err != nil {
				return err
			}
			return writeResult(ctx, cmd, files)
		}),
	}
}

func storageRenderCmd() *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "Render the persistent volume and claim manifests without applying them",
		Flags: append(storageFlags(), outputFlag(), formatFlag()),
		Action: tracked("storage.render", func(ctx context.Context, cmd *cli.Command) error {
			files, err := storage.NewInitializer(storageConfig(cmd), nil, nil).Render(ctx, cmd.String("namespace"))
			if err != nil {
				return err
			}
			return writeResult(ctx, cmd, files)
		}),
	}
}

func storageNamespaceCmd() *cli.Command {
	return &cli.Command{
		Name:  "namespace",
		Usage: "Create or delete a namespace",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a namespace unless it exists",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{namespaceFlag("")},
				Action: tracked("storage.namespace.create", func(ctx context.Context, cmd *cli.Command) error {
					ns, err := argOrFlag(cmd, "namespace")
					if err != nil {
						return err
					}
					si, err := newInitializer(cmd)
					if err != nil {
						return err
					}
					return si.CreateNamespace(ctx, ns)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a namespace",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{namespaceFlag("")},
				Action: tracked("storage.namespace.delete", func(ctx context.Context, cmd *cli.Command) error {
					ns, err := argOrFlag(cmd, "namespace")
					if err != nil {
						return err
					}
					si, err := newInitializer(cmd)
					if err != nil {
						return err
					}
					return si.DeleteNamespace(ctx, ns)
				}),
			},
		},
	}
}

// printManifests writes the documents to the command writer as one YAML stream.
func printManifests(cmd *cli.Command, docs ...storage.Manifest) error {
	w := cmd.Root().Writer
	for i, m := range docs {
		if i > 0 {
			fmt.Fprintln(w, "---")
		}
		fmt.Fprintf(w, "# %s\n", m.Path)
		if _, err := w.Write(m.Data); err != nil {
			return err
		}
	}
	return nil
}
