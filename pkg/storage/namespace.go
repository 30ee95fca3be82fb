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

package storage

import (
	"context"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// CreateNamespace creates namespace unless it already exists.
func (i *Initializer) CreateNamespace(ctx context.Context, namespace string) error {
	if namespace == "" {
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "namespace is not defined")
	}

	_, err := i.kube.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		slog.Debug("namespace already exists", "namespace", namespace)
		return nil
	}
	if !k8serrors.IsNotFound(err) {
		return apperrors.FromKubernetes("failed to read namespace", err)
	}

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: namespace}}
	if _, err := i.kube.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); ignoreAlreadyExists(err) != nil {
		return apperrors.FromKubernetes("failed to create namespace", err)
	}
	slog.Info("namespace created", "namespace", namespace)
	return nil
}

// DeleteNamespace deletes namespace. A missing namespace returns NOT_FOUND.
func (i *Initializer) DeleteNamespace(ctx context.Context, namespace string) error {
	if namespace == "" {
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "namespace is not defined")
	}

	if _, err := i.kube.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{}); err != nil {
		if k8serrors.IsNotFound(err) {
			slog.Error("requested namespace does not exist", "namespace", namespace)
		}
		return apperrors.FromKubernetes("failed to read namespace", err)
	}

	err := i.kube.CoreV1().Namespaces().Delete(ctx, namespace, metav1.DeleteOptions{})
	if err != nil {
		return apperrors.FromKubernetes("failed to delete namespace", err)
	}
	slog.Info("namespace deleted", "namespace", namespace)
	return nil
}

func ignoreAlreadyExists(err error) error {
	if k8serrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}
