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

// Package k8s groups the Kubernetes integration used by tdbml.
//
// # Sub-packages
//
// client: kubeconfig discovery, typed and dynamic clients
//
//	c, err := client.Get("")
//
// manifest: apply multi-document YAML files through the dynamic client
//
//	applier := manifest.NewApplier(c.Dynamic, c.Mapper)
//	objs, err := applier.ApplyFile(ctx, "/opt/traindb/traindb-ml/conf/learned-model-pv.yaml", "")
//
// Custom resources owned by KServe and the Training Operator are handled as
// unstructured objects so the tool does not pin those projects' Go modules.
package k8s
