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

// Platform layout on the client and host side.
const (
	// ConfPath is the client side directory holding storage templates.
	ConfPath = "/opt/traindb/traindb-ml/conf/"

	// HostPath is the host side directory backing the model volume.
	HostPath = "/opt/traindb/traindb-ml/models"

	// Namespace is the default namespace for learned models.
	Namespace = "learned-model"

	// SystemName is the value of the "system" label on platform resources.
	SystemName = "traindb"

	// TDBName is the platform name used for default resource names.
	TDBName = "traindb-ml"
)

// Storage template and naming conventions.
const (
	PVTemplate    = "template-pv.yaml"
	PVCTemplate   = "template-pvc.yaml"
	VolumePostfix = "-volume"
	ClaimPostfix  = "-claim"
	PVPostfix     = "-pv.yaml"
	PVCPostfix    = "-pvc.yaml"
)

// Container file generator defaults.
const (
	DockerfileName   = "Dockerfile"
	RequirementsName = "requirements.txt"
	BaseImage        = "python:3.8-slim"
	SourceExtension  = ".py"
	AppDir           = "/app/"
)

// Common label keys.
const (
	LabelSystem    = "system"
	LabelSubsystem = "subsystem"
	LabelName      = "name"
	LabelRunID     = "traindb.io/run-id"
)
