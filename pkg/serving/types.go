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
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
	"github.com/traindb-project/traindb-ml/pkg/metadata"
)

const (
	// APIVersion of the KServe InferenceService resource.
	APIVersion = "serving.kserve.io/v1beta1"
	// Kind of the KServe InferenceService resource.
	Kind = "InferenceService"

	// PodNamePrefix prefixes every model server name.
	PodNamePrefix = "traindb-ml-serve-"

	// ConditionReady is the InferenceService readiness condition.
	ConditionReady = "Ready"

	LabelPodType   = "podtype"
	LabelModelType = "modeltype"
	LabelModelName = "modelname"

	subsystemML  = "ml"
	podTypeServe = "serve"
)

// GVR is the InferenceService resource.
var GVR = schema.GroupVersionResource{
	Group:    "serving.kserve.io",
	Version:  "v1beta1",
	Resource: "inferenceservices",
}

// ModelServer identifies a served model.
type ModelServer struct {
	// ModelType is the framework of the model, for example pytorch.
	ModelType string
	// ModelName is the learned model name.
	ModelName string
	// ModelURI is the base URL of the prediction endpoint.
	ModelURI string
	// RunID is an optional run identifier added as a label.
	RunID string
}

// PodName returns the InferenceService name for the model server.
// The name is lower cased and characters outside [a-z0-9-] are replaced
// so it is a valid DNS-1123 label.
func (m ModelServer) PodName() (string, error) {
	if m.ModelType == "" || m.ModelName == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidRequest, "model type and model name are required")
	}

	name := normalizeName(PodNamePrefix + m.ModelType + "-" + m.ModelName)
	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return "", apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "invalid model server name",
			map[string]any{"name": name, "errors": strings.Join(errs, "; ")})
	}
	return name, nil
}

// Labels returns the labels applied to the InferenceService.
func (m ModelServer) Labels() (map[string]string, error) {
	labels := map[string]string{
		defaults.LabelSystem:    defaults.SystemName,
		defaults.LabelSubsystem: subsystemML,
		LabelPodType:            podTypeServe,
		LabelModelType:          m.ModelType,
		LabelModelName:          m.ModelName,
	}
	for k, v := range labels {
		if errs := validation.IsValidLabelValue(v); len(errs) > 0 {
			return nil, apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "invalid label value",
				map[string]any{"label": k, "value": v, "errors": strings.Join(errs, "; ")})
		}
	}
	return metadata.Labels(labels, m.RunID), nil
}

// InferenceService builds the InferenceService serving the model from
// storageURI with the PyTorch predictor.
func (m ModelServer) InferenceService(namespace, storageURI string) (*unstructured.Unstructured, error) {
	if storageURI == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "storage uri is required")
	}
	name, err := m.PodName()
	if err != nil {
		return nil, err
	}
	labels, err := m.Labels()
	if err != nil {
		return nil, err
	}

	isvc := &unstructured.Unstructured{}
	isvc.SetAPIVersion(APIVersion)
	isvc.SetKind(Kind)
	isvc.SetName(name)
	isvc.SetNamespace(namespace)
	isvc.SetLabels(labels)
	if err := unstructured.SetNestedField(isvc.Object, storageURI, "spec", "predictor", "pytorch", "storageUri"); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to set storage uri", err)
	}
	return isvc, nil
}

// normalizeName folds s into a DNS-1123 label.
func normalizeName(s string) string {
	s = cases.Lower(language.Und).String(s)

	var b strings.Builder
	dash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	out := b.String()
	if len(out) > validation.DNS1123LabelMaxLength {
		out = out[:validation.DNS1123LabelMaxLength]
	}
	return strings.TrimRight(out, "-")
}
