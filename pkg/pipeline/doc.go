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

// Package pipeline defines training pipelines as a DAG of container steps
// and compiles them into Argo Workflows that Kubeflow Pipelines can run.
//
// A compiled pipeline is packaged as a gzipped tar archive holding a single
// pipeline.yaml, the format accepted by the Kubeflow Pipelines upload API.
//
//	p := pipeline.PyTorchMNIST()
//	wf, err := pipeline.Compile(p, metadata.NewRunID())
//	if err != nil {
//	    return err
//	}
//	err = pipeline.WriteArchiveFile("pytorch-mnist.tar.gz", wf)
//
// Step arguments reference pipeline parameters with
// {{inputs.parameters.<name>}}. A step must list every parameter it
// references in Inputs.
package pipeline
