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

package serving

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// Config holds registrar timings.
type Config struct {
	// WatchTimeout bounds the initial watch after creation.
	WatchTimeout time.Duration
	// ReadyTimeout bounds the readiness poll.
	ReadyTimeout time.Duration
	// PollInterval is the readiness poll interval.
	PollInterval time.Duration
}

// DefaultConfig returns the default registrar timings.
func DefaultConfig() Config {
	return Config{
		WatchTimeout: defaults.ServingWatchTimeout,
		ReadyTimeout: defaults.ServingReadyTimeout,
		PollInterval: defaults.K8sPollInterval,
	}
}

// Condition is a status condition of an InferenceService.
type Condition struct {
	Type    string `json:"type" yaml:"type"`
	Status  string `json:"status" yaml:"status"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Status summarizes an InferenceService.
type Status struct {
	Name       string      `json:"name" yaml:"name"`
	Namespace  string      `json:"namespace" yaml:"namespace"`
	Ready      bool        `json:"ready" yaml:"ready"`
	URL        string      `json:"url,omitempty" yaml:"url,omitempty"`
	StorageURI string      `json:"storageUri,omitempty" yaml:"storageUri,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Registrar manages InferenceServices.
type Registrar struct {
	client dynamic.Interface
	config Config
}

// NewRegistrar returns a Registrar. Zero config fields take the defaults.
func NewRegistrar(client dynamic.Interface, config Config) *Registrar {
	d := DefaultConfig()
	if config.WatchTimeout <= 0 {
		config.WatchTimeout = d.WatchTimeout
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = d.ReadyTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = d.PollInterval
	}
	return &Registrar{client: client, config: config}
}

// Register creates the InferenceService for server in namespace and waits
// until it is ready.
func (r *Registrar) Register(ctx context.Context, server ModelServer, namespace, storageURI string) (*Status, error) {
	isvc, err := server.InferenceService(namespace, storageURI)
	if err != nil {
		return nil, err
	}
	name := isvc.GetName()

	if _, err := r.client.Resource(GVR).Namespace(namespace).Create(ctx, isvc, metav1.CreateOptions{}); err != nil {
		return nil, apperrors.FromKubernetes(fmt.Sprintf("failed to create InferenceService %q", name), err)
	}
	slog.Info("inference service created", "name", name, "namespace", namespace)

	current, err := r.Get(ctx, name, namespace)
	if err != nil {
		return nil, err
	}

	if !isReady(current) {
		ready, watchErr := r.watchReady(ctx, name, namespace)
		if watchErr != nil {
			return nil, watchErr
		}
		if !ready {
			if err := r.WaitReady(ctx, name, namespace, r.config.ReadyTimeout); err != nil {
				return nil, err
			}
		}
	}

	return r.Status(ctx, name, namespace)
}

// Get returns the InferenceService name in namespace.
func (r *Registrar) Get(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error) {
	obj, err := r.client.Resource(GVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, apperrors.FromKubernetes(fmt.Sprintf("failed to get InferenceService %q", name), err)
	}
	return obj, nil
}

// Delete removes the InferenceService. A missing service is not an error.
func (r *Registrar) Delete(ctx context.Context, name, namespace string) error {
	err := r.client.Resource(GVR).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		slog.Debug("inference service already absent", "name", name, "namespace", namespace)
		return nil
	}
	if err != nil {
		return apperrors.FromKubernetes(fmt.Sprintf("failed to delete InferenceService %q", name), err)
	}
	slog.Info("inference service deleted", "name", name, "namespace", namespace)
	return nil
}

// Status returns the readiness summary of the InferenceService.
func (r *Registrar) Status(ctx context.Context, name, namespace string) (*Status, error) {
	obj, err := r.Get(ctx, name, namespace)
	if err != nil {
		return nil, err
	}
	return statusOf(obj), nil
}

// WaitReady polls until the InferenceService reports Ready=True.
func (r *Registrar) WaitReady(ctx context.Context, name, namespace string, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, r.config.PollInterval, timeout, true,
		func(ctx context.Context) (bool, error) {
			obj, err := r.client.Resource(GVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
			if k8serrors.IsNotFound(err) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return isReady(obj), nil
		},
	)
	if err == nil {
		slog.Info("inference service ready", "name", name, "namespace", namespace)
		return nil
	}
	if wait.Interrupted(err) {
		return apperrors.WrapWithContext(apperrors.ErrCodeTimeout, "timeout waiting for InferenceService to be ready", err,
			map[string]any{"name": name, "namespace": namespace, "timeout": timeout.String()})
	}
	return apperrors.FromKubernetes(fmt.Sprintf("failed waiting for InferenceService %q", name), err)
}

// watchReady watches the InferenceService for up to WatchTimeout. It
// reports whether the service became ready in that period.
func (r *Registrar) watchReady(ctx context.Context, name, namespace string) (bool, error) {
	watcher, err := r.client.Resource(GVR).Namespace(namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + name,
	})
	if err != nil {
		return false, apperrors.FromKubernetes(fmt.Sprintf("failed to watch InferenceService %q", name), err)
	}
	defer watcher.Stop()

	timeoutCtx, cancel := context.WithTimeout(ctx, r.config.WatchTimeout)
	defer cancel()

	for {
		select {
		case <-timeoutCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			slog.Debug("watch period elapsed", "name", name, "timeout", r.config.WatchTimeout)
			return false, nil

		case event, ok := <-watcher.ResultChan():
			if !ok {
				return false, nil
			}
			if event.Type == watch.Error {
				return false, apperrors.NewWithContext(apperrors.ErrCodeInternal, "watch error",
					map[string]any{"object": fmt.Sprintf("%v", event.Object)})
			}

			obj, ok := event.Object.(*unstructured.Unstructured)
			if !ok || obj.GetName() != name {
				continue
			}
			if event.Type == watch.Deleted {
				return false, apperrors.NewWithContext(apperrors.ErrCodeNotFound, "inference service deleted while waiting",
					map[string]any{"name": name, "namespace": namespace})
			}
			if isReady(obj) {
				return true, nil
			}
		}
	}
}

func isReady(obj *unstructured.Unstructured) bool {
	for _, c := range conditionsOf(obj) {
		if c.Type == ConditionReady {
			return c.Status == string(metav1.ConditionTrue)
		}
	}
	return false
}

func conditionsOf(obj *unstructured.Unstructured) []Condition {
	raw, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	out := make([]Condition, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := Condition{}
		c.Type, _, _ = unstructured.NestedString(m, "type")
		c.Status, _, _ = unstructured.NestedString(m, "status")
		c.Reason, _, _ = unstructured.NestedString(m, "reason")
		c.Message, _, _ = unstructured.NestedString(m, "message")
		out = append(out, c)
	}
	return out
}

func statusOf(obj *unstructured.Unstructured) *Status {
	s := &Status{
		Name:       obj.GetName(),
		Namespace:  obj.GetNamespace(),
		Ready:      isReady(obj),
		Conditions: conditionsOf(obj),
	}
	s.URL, _, _ = unstructured.NestedString(obj.Object, "status", "url")
	s.StorageURI, _, _ = unstructured.NestedString(obj.Object, "spec", "predictor", "pytorch", "storageUri")
	return s
}
