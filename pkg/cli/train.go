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
	"maps"
	"sort"

	"github.com/urfave/cli/v3"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	"github.com/traindb-project/traindb-ml/pkg/training"
)

// jobStatus is printed by the train commands.
type jobStatus struct {
	Name       string                            `json:"name" yaml:"name"`
	Namespace  string                            `json:"namespace" yaml:"namespace"`
	RunID      string                            `json:"runId,omitempty" yaml:"runId,omitempty"`
	Succeeded  bool                              `json:"succeeded" yaml:"succeeded"`
	Failed     bool                              `json:"failed" yaml:"failed"`
	Conditions []training.Condition              `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Replicas   map[string]training.ReplicaStatus `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	Logs       map[string]string                 `json:"logs,omitempty" yaml:"logs,omitempty"`
}

func statusOf(job *unstructured.Unstructured) *jobStatus {
	return &jobStatus{
		Name:       job.GetName(),
		Namespace:  job.GetNamespace(),
		RunID:      job.GetLabels()[defaults.LabelRunID],
		Succeeded:  training.IsSucceeded(job),
		Failed:     training.IsFailed(job),
		Conditions: training.JobConditions(job),
		Replicas:   training.ReplicaStatuses(job),
	}
}

func jobFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "name",
			Usage: "PyTorchJob name",
			Value: training.DefaultName,
		},
		namespaceFlag(training.DefaultNamespace),
	}
}

func waitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Timeout for the job to reach the expected condition",
			Value: defaults.TrainingJobTimeout,
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: "Interval between job status checks",
			Value: defaults.TrainingPollInterval,
		},
	}
}

func newTrainingClient(cmd *cli.Command) (*training.Client, error) {
	c, err := clients(cmd)
	if err != nil {
		return nil, err
	}
	return training.NewClient(c.Dynamic, c.Kube, training.Config{}), nil
}

func trainCmd() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Run distributed PyTorch training jobs",
		Commands: []*cli.Command{
			trainSubmitCmd(),
			trainStatusCmd(),
			trainWaitCmd(),
			trainLogsCmd(),
			trainDeleteCmd(),
		},
	}
}

// jobSpec builds a JobSpec from the submit flags over the defaults.
func jobSpec(cmd *cli.Command) (training.JobSpec, error) {
	spec := training.DefaultJobSpec()
	spec.Name = cmd.String("name")
	spec.Namespace = cmd.String("namespace")
	spec.Container = cmd.String("container")
	spec.Image = cmd.String("image")
	if args := cmd.StringSlice("arg"); len(args) > 0 {
		spec.Args = args
	}
	spec.Replicas[training.ReplicaWorker] = int32(cmd.Int("workers"))
	spec.RestartPolicy = corev1.RestartPolicy(cmd.String("restart-policy"))
	spec.CleanPodPolicy = training.CleanPodPolicy(cmd.String("clean-pod-policy"))

	annotations, err := parseKeyValues("annotation", cmd.StringSlice("annotation"))
	if err != nil {
		return spec, err
	}
	maps.Copy(spec.Annotations, annotations)

	if spec.Labels, err = parseKeyValues("label", cmd.StringSlice("label")); err != nil {
		return spec, err
	}

	if spec.RunID, err = runID(cmd); err != nil {
		return spec, err
	}
	return spec, spec.Validate()
}

func trainSubmitCmd() *cli.Command {
	flags := append(jobFlags(),
		&cli.StringFlag{
			Name:  "image",
			Usage: "Training container image",
			Value: training.DefaultImage,
		},
		&cli.StringFlag{
			Name:  "container",
			Usage: "Training container name",
			Value: training.DefaultContainer,
		},
		&cli.StringSliceFlag{
			Name:  "arg",
			Usage: "Training container argument, one flag per argument (default: --backend gloo)",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of worker replicas",
			Value: 1,
		},
		&cli.StringFlag{
			Name:  "restart-policy",
			Usage: "Replica restart policy (Always, OnFailure, Never, ExitCode)",
			Value: string(corev1.RestartPolicyOnFailure),
		},
		&cli.StringFlag{
			Name:  "clean-pod-policy",
			Usage: "Pods to delete when the job finishes (None, Running, All)",
			Value: string(training.CleanPodPolicyNone),
		},
		&cli.StringSliceFlag{
			Name:  "annotation",
			Usage: "Pod annotation (format: key=value, can be repeated)",
		},
		&cli.StringSliceFlag{
			Name:  "label",
			Usage: "Job label (format: key=value, can be repeated)",
		},
		&cli.BoolFlag{
			Name:  "wait",
			Usage: "Wait for the job to succeed and collect the master logs",
		},
		&cli.BoolFlag{
			Name:  "cleanup",
			Usage: "Delete the job after --wait completes",
		},
		runIDFlag(),
		outputFlag(),
		formatFlag(),
	)

	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a PyTorchJob, replacing any job with the same name",
		Description: `Deletes an existing PyTorchJob with the same name, waits until it is gone and
creates the job. With --wait the command then waits for the Succeeded condition,
reports the replica statuses, collects the master logs and, with --cleanup, deletes
the job.`,
		Flags: append(flags, waitFlags()...),
		Action: tracked("train.submit", func(ctx context.Context, cmd *cli.Command) error {
			spec, err := jobSpec(cmd)
			if err != nil {
				return err
			}

			tc, err := newTrainingClient(cmd)
			if err != nil {
				return err
			}
			job, err := tc.Submit(ctx, spec)
			if err != nil {
				return err
			}
			slog.Info("pytorchjob submitted", "name", spec.Name, "namespace", spec.Namespace, "runID", spec.RunID)

			if !cmd.Bool("wait") {
				return writeResult(ctx, cmd, statusOf(job))
			}

			job, err = tc.WaitForConditions(ctx, spec.Name, spec.Namespace, nil,
				cmd.Duration("timeout"), cmd.Duration("poll-interval"))
			if err != nil {
				return err
			}
			st := statusOf(job)
			if master, ok := st.Replicas[string(training.ReplicaMaster)]; ok {
				slog.Info("master replicas succeeded", "name", spec.Name, "succeeded", master.Succeeded)
			}

			if st.Logs, err = tc.Logs(ctx, spec.Name, spec.Namespace, spec.Container, true); err != nil {
				return err
			}

			if cmd.Bool("cleanup") {
				if _, err := tc.Delete(ctx, spec.Name, spec.Namespace); err != nil {
					return err
				}
			}
			return writeResult(ctx, cmd, st)
		}),
	}
}

func trainStatusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the conditions and replica statuses of a PyTorchJob",
		ArgsUsage: "[NAME]",
		Flags:     append(jobFlags(), outputFlag(), formatFlag()),
		Action: tracked("train.status", func(ctx context.Context, cmd *cli.Command) error {
			name, err := argOrFlag(cmd, "name")
			if err != nil {
				return err
			}
			tc, err := newTrainingClient(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, defaults.K8sAPITimeout)
			defer cancel()

			job, err := tc.Get(ctx, name, cmd.String("namespace"))
			if err != nil {
				return err
			}
			return writeResult(ctx, cmd, statusOf(job))
		}),
	}
}

func trainWaitCmd() *cli.Command {
	flags := append(jobFlags(),
		&cli.StringSliceFlag{
			Name:  "condition",
			Usage: "Condition type that ends the wait, can be repeated (default: Succeeded)",
		},
		outputFlag(),
		formatFlag(),
	)
	return &cli.Command{
		Name:      "wait",
		Usage:     "Wait until a PyTorchJob reaches a condition",
		ArgsUsage: "[NAME]",
		Flags:     append(flags, waitFlags()...),
		Action: tracked("train.wait", func(ctx context.Context, cmd *cli.Command) error {
			name, err := argOrFlag(cmd, "name")
			if err != nil {
				return err
			}
			tc, err := newTrainingClient(cmd)
			if err != nil {
				return err
			}
			job, err := tc.WaitForConditions(ctx, name, cmd.String("namespace"), cmd.StringSlice("condition"),
				cmd.Duration("timeout"), cmd.Duration("poll-interval"))
			if err != nil {
				return err
			}
			return writeResult(ctx, cmd, statusOf(job))
		}),
	}
}

func trainLogsCmd() *cli.Command {
	return &cli.Command{
		Name:      "logs",
		Usage:     "Print the logs of the PyTorchJob pods",
		ArgsUsage: "[NAME]",
		Flags: append(jobFlags(),
			&cli.StringFlag{
				Name:  "container",
				Usage: "Container to read logs from",
				Value: training.DefaultContainer,
			},
			&cli.BoolFlag{
				Name:  "master-only",
				Usage: "Only read the master replica logs",
			},
		),
		Action: tracked("train.logs", func(ctx context.Context, cmd *cli.Command) error {
			name, err := argOrFlag(cmd, "name")
			if err != nil {
				return err
			}
			tc, err := newTrainingClient(cmd)
			if err != nil {
				return err
			}
			logs, err := tc.Logs(ctx, name, cmd.String("namespace"), cmd.String("container"), cmd.Bool("master-only"))
			if err != nil {
				return err
			}

			pods := make([]string, 0, len(logs))
			for pod := range logs {
				pods = append(pods, pod)
			}
			sort.Strings(pods)

			w := cmd.Root().Writer
			for _, pod := range pods {
				fmt.Fprintf(w, "==> %s <==\n%s\n", pod, logs[pod])
			}
			return nil
		}),
	}
}

func trainDeleteCmd() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a PyTorchJob and its pods",
		ArgsUsage: "[NAME]",
		Flags: append(jobFlags(),
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait until the job is gone",
			},
		),
		Action: tracked("train.delete", func(ctx context.Context, cmd *cli.Command) error {
			name, err := argOrFlag(cmd, "name")
			if err != nil {
				return err
			}
			ns := cmd.String("namespace")
			tc, err := newTrainingClient(cmd)
			if err != nil {
				return err
			}
			existed, err := tc.Delete(ctx, name, ns)
			if err != nil {
				return err
			}
			if !existed {
				slog.Info("pytorchjob does not exist", "name", name, "namespace", ns)
				return nil
			}
			if cmd.Bool("wait") {
				return tc.WaitDeleted(ctx, name, ns)
			}
			return nil
		}),
	}
}
