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

package training

import (
	"strings"

	"github.com/distribution/reference"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/validation"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

const (
	// APIVersion of the PyTorchJob resource.
	APIVersion = "kubeflow.org/v1"
	// Kind of the PyTorchJob resource.
	Kind = "PyTorchJob"

	// LabelJobName is set by the Training Operator on every job pod.
	LabelJobName = "training.kubeflow.org/job-name"
	// LabelReplicaType is set by the Training Operator to the lower cased
	// replica type.
	LabelReplicaType = "training.kubeflow.org/replica-type"
)

// GVR is the PyTorchJob resource.
var GVR = schema.GroupVersionResource{
	Group:    "kubeflow.org",
	Version:  "v1",
	Resource: "pytorchjobs",
}

// ReplicaType names a PyTorchJob replica group.
type ReplicaType string

const (
	ReplicaMaster ReplicaType = "Master"
	ReplicaWorker ReplicaType = "Worker"
)

// Job condition types reported by the Training Operator.
const (
	ConditionCreated    = "Created"
	ConditionRunning    = "Running"
	ConditionRestarting = "Restarting"
	ConditionSucceeded  = "Succeeded"
	ConditionFailed     = "Failed"
)

// CleanPodPolicy controls which pods are deleted when the job finishes.
type CleanPodPolicy string

const (
	CleanPodPolicyNone    CleanPodPolicy = "None"
	CleanPodPolicyRunning CleanPodPolicy = "Running"
	CleanPodPolicyAll     CleanPodPolicy = "All"
)

// Defaults for DefaultJobSpec.
const (
	DefaultName      = "pytorch-dist-mnist-gloo"
	DefaultNamespace = "traindb"
	DefaultContainer = "pytorch"
	DefaultImage     = "gcr.io/kubeflow-ci/pytorch-dist-mnist-test:v1.0"
)

// JobSpec describes a PyTorchJob.
type JobSpec struct {
	Name      string
	Namespace string
	Container string
	Image     string
	Args      []string
	// Replicas per replica type. A missing or zero entry omits the group.
	Replicas       map[ReplicaType]int32
	RestartPolicy  corev1.RestartPolicy
	CleanPodPolicy CleanPodPolicy
	// Annotations are added to the pod template.
	Annotations map[string]string
	// Labels are added to the job and the pod template.
	Labels map[string]string
	// RunID is an optional run identifier added as a label.
	RunID string
}

// DefaultJobSpec returns the distributed MNIST job with one master and one
// worker using the gloo backend.
func DefaultJobSpec() JobSpec {
	return JobSpec{
		Name:      DefaultName,
		Namespace: DefaultNamespace,
		Container: DefaultContainer,
		Image:     DefaultImage,
		Args:      []string{"--backend", "gloo"},
		Replicas: map[ReplicaType]int32{
			ReplicaMaster: 1,
			ReplicaWorker: 1,
		},
		RestartPolicy:  corev1.RestartPolicyOnFailure,
		CleanPodPolicy: CleanPodPolicyNone,
		Annotations:    map[string]string{"sidecar.istio.io/inject": "false"},
	}
}

// Validate checks the spec before it is sent to the API server.
func (s JobSpec) Validate() error {
	if errs := validation.IsDNS1123Subdomain(s.Name); len(errs) > 0 {
		return invalid("invalid job name", s.Name, errs)
	}
	if errs := validation.IsDNS1123Label(s.Namespace); len(errs) > 0 {
		return invalid("invalid namespace", s.Namespace, errs)
	}
	if errs := validation.IsDNS1123Label(s.Container); len(errs) > 0 {
		return invalid("invalid container name", s.Container, errs)
	}
	if _, err := reference.ParseNormalizedNamed(s.Image); err != nil {
		return apperrors.WrapWithContext(apperrors.ErrCodeInvalidRequest, "invalid image", err,
			map[string]any{"image": s.Image})
	}
	if s.Replicas[ReplicaMaster] != 1 {
		return apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "a PyTorchJob needs exactly one master",
			map[string]any{"master": s.Replicas[ReplicaMaster]})
	}
	for rt, n := range s.Replicas {
		if rt != ReplicaMaster && rt != ReplicaWorker {
			return apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "unknown replica type",
				map[string]any{"type": string(rt)})
		}
		if n < 0 {
			return apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "negative replica count",
				map[string]any{"type": string(rt), "replicas": n})
		}
	}
	switch s.RestartPolicy {
	case corev1.RestartPolicyAlways, corev1.RestartPolicyOnFailure, corev1.RestartPolicyNever, "ExitCode":
	default:
		return apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "invalid restart policy",
			map[string]any{"restartPolicy": string(s.RestartPolicy)})
	}
	switch s.CleanPodPolicy {
	case CleanPodPolicyNone, CleanPodPolicyRunning, CleanPodPolicyAll:
	default:
		return apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "invalid clean pod policy",
			map[string]any{"cleanPodPolicy": string(s.CleanPodPolicy)})
	}
	return nil
}

// Condition is a PyTorchJob status condition.
type Condition struct {
	Type    string `json:"type" yaml:"type"`
	Status  string `json:"status" yaml:"status"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// ReplicaStatus counts the pods of one replica type.
type ReplicaStatus struct {
	Active    int32 `json:"active" yaml:"active"`
	Succeeded int32 `json:"succeeded" yaml:"succeeded"`
	Failed    int32 `json:"failed" yaml:"failed"`
}

func invalid(message, value string, errs []string) error {
	return apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, message,
		map[string]any{"value": value, "errors": strings.Join(errs, "; ")})
}
