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

package pipeline

import (
	_ "embed"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
)

// Built-in pipeline defaults.
const (
	MNISTName  = "pytorch-mnist"
	MNISTImage = "pytorch/pytorch:1.7.1-cuda11.0-cudnn8-runtime"

	// MNISTVolume mounts the learned-model claim created by the storage
	// initializer.
	MNISTVolume    = "model-store"
	MNISTMountPath = "/mnt"
)

var (
	//go:embed scripts/download.py
	downloadScript string

	//go:embed scripts/train.py
	trainScript string
)

// PyTorchMNIST returns the built-in pipeline that downloads MNIST and trains
// a convolutional classifier on it.
func PyTorchMNIST() *Pipeline {
	return &Pipeline{
		Name:        MNISTName,
		Description: "Train a PyTorch MNIST classifier",
		Parameters: []Parameter{
			{Name: "data_path", Type: TypeString, Default: "/mnt/data/mnist"},
			{Name: "model_path", Type: TypeString, Default: "/mnt/model/model.pt"},
			{Name: "epochs", Type: TypeInt, Default: "10"},
			{Name: "learning_rate", Type: TypeFloat, Default: "0.001"},
			{Name: "batch_size", Type: TypeInt, Default: "64"},
		},
		Volumes: []Volume{{
			Name:      MNISTVolume,
			ClaimName: defaults.Namespace + defaults.ClaimPostfix,
			MountPath: MNISTMountPath,
		}},
		Steps: []Step{
			{
				Name:    "download",
				Image:   MNISTImage,
				Command: []string{"python", "-c", downloadScript},
				Args:    []string{"--data-path", "{{inputs.parameters.data_path}}"},
				Inputs:  []string{"data_path"},
			},
			{
				Name:    "train",
				Image:   MNISTImage,
				Command: []string{"python", "-c", trainScript},
				Args: []string{
					"--data-path", "{{inputs.parameters.data_path}}",
					"--model-path", "{{inputs.parameters.model_path}}",
					"--epochs", "{{inputs.parameters.epochs}}",
					"--learning-rate", "{{inputs.parameters.learning_rate}}",
					"--batch-size", "{{inputs.parameters.batch_size}}",
				},
				Inputs:    []string{"data_path", "model_path", "epochs", "learning_rate", "batch_size"},
				Outputs:   []string{"model"},
				DependsOn: []string{"download"},
			},
		},
	}
}
