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

// Package cli implements the tdbml command-line interface for TrainDB-ML
// platform operations.
//
// # Commands
//
// storage - Prepare model storage:
//
//	tdbml storage init --namespace learned-model [--dry-run]
//	tdbml storage render --namespace learned-model
//	tdbml storage namespace create|delete NAME
//
// Renders PersistentVolume and PersistentVolumeClaim manifests from the
// templates in the configuration directory and applies them to the cluster.
//
// dockerfile / image - Package a model server:
//
//	tdbml dockerfile generate --dir ./model
//	tdbml image build --context ./model --target registry.example.com/models/mnist:v1
//
// serve - Manage KServe model servers:
//
//	tdbml serve register --model-type pytorch --model-name mnist --storage-uri pvc://learned-model-claim/mnist
//	tdbml serve status|delete --model-type pytorch --model-name mnist
//	tdbml serve predict --model-type pytorch --model-name mnist --input instances.json
//
// pipeline - Compile training pipelines:
//
//	tdbml pipeline compile [--file def.yaml] [--output pytorch-mnist.tar.gz] [--push oci://REGISTRY/REPO:TAG]
//
// train - Run distributed PyTorch training jobs:
//
//	tdbml train submit [--wait] [--cleanup]
//	tdbml train status|wait|logs|delete NAME
//
// # Global Flags
//
//	--log-level      Log level: debug, info, warn, error (default: info)
//	--kubeconfig     Path to kubeconfig (default: KUBECONFIG, ~/.kube/config, in-cluster)
//	--metrics-file   Write operation metrics in Prometheus text format on exit
//
// Commands that print results accept --format yaml|json|table and --output FILE.
//
// # Exit Codes
//
//	0  success
//	1  command failed
//	2  interrupted (SIGINT/SIGTERM)
package cli
