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

// Package defaults provides centralized configuration constants for tdbml.
//
// Two groups of values live here: platform layout (template directory,
// host path, default namespace, naming suffixes) and timeouts for the
// Kubernetes, KServe, and Training Operator interactions.
//
// # Usage
//
//	ctx, cancel := context.WithTimeout(ctx, defaults.K8sAPITimeout)
//	defer cancel()
//
// # Timeout Guidelines
//
//   - K8s API calls: 30s per round trip
//   - Inference service: 120s watch, then poll up to 10m
//   - Training jobs: poll every 15s, 30m default deadline
package defaults
