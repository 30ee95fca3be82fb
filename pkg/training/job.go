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
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
	"github.com/traindb-project/traindb-ml/pkg/metadata"
)

// Config holds client timings.
type Config struct {
	// DeletionTimeout bounds the wait for a job to disappear.
	DeletionTimeout time.Duration
	// PollInterval is the interval for deletion polling.
	PollInterval time.Duration
}

// Client manages PyTorchJobs.
type Client struct {
	dynamic dynamic.Interface
	kube    kubernetes.Interface
	config  Config
}

// NewClient returns a Client. Zero config fields take the defaults.
func NewClient(dyn dynamic.Interface, kube kubernetes.Interface, config Config) *Client {
	if config.DeletionTimeout <= 0 {
		config.DeletionTimeout = defaults.K8sDeletionTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.K8sPollInterval
	}
	return &Client{dynamic: dyn, kube: kube, config: config}
}

// Build converts spec into a PyTorchJob object.
func Build(spec JobSpec) (*unstructured.Unstructured, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	labels := metadata.Labels(spec.Labels, spec.RunID)
	if _, ok := labels[defaults.LabelSystem]; !ok {
		labels[defaults.LabelSystem] = defaults.SystemName
	}

	template := corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{
			Labels:      labels,
			Annotations: spec.Annotations,
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:  spec.Container,
				Image: spec.Image,
				Args:  spec.Args,
			}},
		},
	}
	tmpl, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&template)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to convert pod template", err)
	}

	replicaSpecs := map[string]any{}
	for _, rt := range []ReplicaType{ReplicaMaster, ReplicaWorker} {
		n := spec.Replicas[rt]
		if n == 0 {
			continue
		}
		replicaSpecs[string(rt)] = map[string]any{
			"replicas":      int64(n),
			"restartPolicy": string(spec.RestartPolicy),
			"template":      runtime.DeepCopyJSON(tmpl),
		}
	}

	job := &unstructured.Unstructured{Object: map[string]any{
		"spec": map[string]any{
			"runPolicy": map[string]any{
				"cleanPodPolicy": string(spec.CleanPodPolicy),
			},
			"pytorchReplicaSpecs": replicaSpecs,
		},
	}}
	job.SetAPIVersion(APIVersion)
	job.SetKind(Kind)
	job.SetName(spec.Name)
	job.SetNamespace(spec.Namespace)
	job.SetLabels(labels)
	return job, nil
}

// Create creates the PyTorchJob for spec.
func (c *Client) Create(ctx context.Context, spec JobSpec) (*unstructured.Unstructured, error) {
	job, err := Build(spec)
	if err != nil {
		return nil, err
	}
	out, err := c.dynamic.Resource(GVR).Namespace(spec.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, apperrors.FromKubernetes(fmt.Sprintf("failed to create PyTorchJob %q", spec.Name), err)
	}
	slog.Info("pytorchjob created", "name", spec.Name, "namespace", spec.Namespace)
	return out, nil
}

// Get returns the PyTorchJob name in namespace.
func (c *Client) Get(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error) {
	job, err := c.dynamic.Resource(GVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, apperrors.FromKubernetes(fmt.Sprintf("failed to get PyTorchJob %q", name), err)
	}
	return job, nil
}

// Delete deletes the PyTorchJob and its pods. It reports whether the job
// existed. A missing job is not an error.
func (c *Client) Delete(ctx context.Context, name, namespace string) (bool, error) {
	propagation := metav1.DeletePropagationForeground
	err := c.dynamic.Resource(GVR).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if k8serrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.FromKubernetes(fmt.Sprintf("failed to delete PyTorchJob %q", name), err)
	}
	slog.Info("pytorchjob deleted", "name", name, "namespace", namespace)
	return true, nil
}

// WaitDeleted waits until the PyTorchJob is gone.
func (c *Client) WaitDeleted(ctx context.Context, name, namespace string) error {
	err := wait.PollUntilContextTimeout(ctx, c.config.PollInterval, c.config.DeletionTimeout, true,
		func(ctx context.Context) (bool, error) {
			_, err := c.dynamic.Resource(GVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
			if k8serrors.IsNotFound(err) {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			return false, nil
		},
	)
	if err == nil {
		return nil
	}
	if wait.Interrupted(err) {
		return apperrors.WrapWithContext(apperrors.ErrCodeTimeout, "timeout waiting for PyTorchJob deletion", err,
			map[string]any{"name": name, "namespace": namespace})
	}
	return apperrors.FromKubernetes(fmt.Sprintf("failed waiting for PyTorchJob %q deletion", name), err)
}

// Submit replaces any PyTorchJob with the same name by a fresh one.
func (c *Client) Submit(ctx context.Context, spec JobSpec) (*unstructured.Unstructured, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	existed, err := c.Delete(ctx, spec.Name, spec.Namespace)
	if err != nil {
		return nil, err
	}
	if existed {
		if err := c.WaitDeleted(ctx, spec.Name, spec.Namespace); err != nil {
			return nil, err
		}
	}
	return c.Create(ctx, spec)
}
