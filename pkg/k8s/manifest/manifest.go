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

// Package manifest applies Kubernetes manifest files through the dynamic client.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/dynamic"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// DefaultNamespace is used for namespaced objects that carry no namespace.
const DefaultNamespace = "default"

// Applier creates the objects described by manifest documents.
type Applier struct {
	client dynamic.Interface
	mapper meta.RESTMapper
}

// NewApplier returns an Applier using client for writes and mapper to resolve kinds.
func NewApplier(client dynamic.Interface, mapper meta.RESTMapper) *Applier {
	return &Applier{
		client: client,
		mapper: mapper,
	}
}

// Decode reads every YAML or JSON document from r. Empty documents are skipped.
func Decode(r io.Reader) ([]*unstructured.Unstructured, error) {
	decoder := utilyaml.NewYAMLOrJSONDecoder(r, 4096)

	var objs []*unstructured.Unstructured
	for {
		var raw map[string]any
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "failed to decode manifest", err)
		}
		if len(raw) == 0 {
			continue
		}

		obj := &unstructured.Unstructured{Object: raw}
		if obj.GetKind() == "" || obj.GetAPIVersion() == "" {
			return nil, apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest,
				"manifest document is missing apiVersion or kind",
				map[string]any{"name": obj.GetName()})
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// ApplyFile creates every object in the manifest file at path.
func (a *Applier) ApplyFile(ctx context.Context, path, namespace string) ([]*unstructured.Unstructured, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeNotFound, "failed to read manifest", err,
			map[string]any{"path": path})
	}

	objs, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a.Apply(ctx, objs, namespace)
}

// Apply creates objs in order and returns the objects stored by the API server.
// Namespaced objects without a namespace are created in namespace, or in
// DefaultNamespace when namespace is empty. Apply stops at the first failure;
// objects created before it are kept.
func (a *Applier) Apply(ctx context.Context, objs []*unstructured.Unstructured, namespace string) ([]*unstructured.Unstructured, error) {
	created := make([]*unstructured.Unstructured, 0, len(objs))

	for _, obj := range objs {
		out, err := a.create(ctx, obj, namespace)
		if err != nil {
			return created, err
		}
		slog.Info("created resource",
			"kind", out.GetKind(),
			"name", out.GetName(),
			"namespace", out.GetNamespace())
		created = append(created, out)
	}
	return created, nil
}

func (a *Applier) create(ctx context.Context, obj *unstructured.Unstructured, namespace string) (*unstructured.Unstructured, error) {
	gvk := obj.GroupVersionKind()

	mapping, err := a.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeInvalidRequest, "unknown resource kind", err,
			map[string]any{"kind": gvk.String()})
	}

	var ri dynamic.ResourceInterface = a.client.Resource(mapping.Resource)
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		ns := obj.GetNamespace()
		if ns == "" {
			ns = namespace
		}
		if ns == "" {
			ns = DefaultNamespace
		}
		obj.SetNamespace(ns)
		ri = a.client.Resource(mapping.Resource).Namespace(ns)
	}

	out, err := ri.Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		return nil, apperrors.FromKubernetes(
			fmt.Sprintf("failed to create %s %q", gvk.Kind, obj.GetName()), err)
	}
	return out, nil
}
