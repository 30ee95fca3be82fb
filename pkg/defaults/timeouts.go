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

package defaults

import "time"

// Kubernetes timeouts for K8s API operations.
const (
	// K8sAPITimeout bounds a single create/get/delete round trip.
	K8sAPITimeout = 30 * time.Second

	// K8sDeletionTimeout is how long to wait for a deleted object to disappear.
	K8sDeletionTimeout = 30 * time.Second

	// K8sPollInterval is the interval between status polls.
	K8sPollInterval = 2 * time.Second
)

// Inference service timeouts.
const (
	// ServingWatchTimeout is how long the registrar watches the inference
	// service after creation before falling back to polling.
	ServingWatchTimeout = 120 * time.Second

	// ServingReadyTimeout is the default timeout for WaitReady.
	ServingReadyTimeout = 10 * time.Minute

	// PredictTimeout is the total timeout for a predict request.
	PredictTimeout = 60 * time.Second
)

// Training job timeouts.
const (
	// TrainingJobTimeout is the default timeout for job conditions to be reached.
	TrainingJobTimeout = 30 * time.Minute

	// TrainingPollInterval is the interval between job condition polls.
	TrainingPollInterval = 15 * time.Second
)

// Image timeouts.
const (
	// ImageBuildTimeout bounds pulling the base image and pushing the result.
	ImageBuildTimeout = 15 * time.Minute

	// ArtifactPushTimeout bounds pushing a compiled pipeline to a registry.
	ArtifactPushTimeout = 5 * time.Minute

	// FreezeTimeout bounds the package manager freeze command.
	FreezeTimeout = 2 * time.Minute
)
