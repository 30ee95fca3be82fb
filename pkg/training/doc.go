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

// Package training submits distributed PyTorch training jobs to the
// Kubeflow Training Operator and follows them to completion.
//
// PyTorchJobs are built from a JobSpec and handled as unstructured objects
// through the dynamic client. Pod logs are read with the typed client.
//
// A complete run:
//
//	c := training.NewClient(clients.Dynamic, clients.Kube, training.Config{})
//	spec := training.DefaultJobSpec()
//	if _, err := c.Submit(ctx, spec); err != nil {
//	    return err
//	}
//	job, err := c.WaitForConditions(ctx, spec.Name, spec.Namespace, nil, 30*time.Minute, 15*time.Second)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(training.ReplicaStatuses(job)["Master"].Succeeded)
//	logs, err := c.Logs(ctx, spec.Name, spec.Namespace, spec.Container, true)
//
// Submit deletes a job of the same name before creating the new one, so
// resubmitting a spec restarts training.
package training
