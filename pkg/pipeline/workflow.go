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
	"encoding/json"
	"fmt"
	"path"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
	"github.com/traindb-project/traindb-ml/pkg/metadata"
)

const (
	// WorkflowAPIVersion is the Argo Workflow API version.
	WorkflowAPIVersion = "argoproj.io/v1alpha1"
	// WorkflowKind is the Argo Workflow kind.
	WorkflowKind = "Workflow"

	// AnnotationPipelineSpec carries the pipeline name and inputs for the
	// Kubeflow Pipelines UI.
	AnnotationPipelineSpec = "pipelines.kubeflow.org/pipeline_spec"

	// OutputDir is where steps write output parameters, one file per output
	// at OutputDir/<name>/data.
	OutputDir = "/tmp/outputs"
)

// Workflow is the subset of the Argo Workflow resource produced by Compile.
type Workflow struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata"`
	Spec              WorkflowSpec `json:"spec"`
}

// WorkflowSpec is the Argo Workflow spec.
type WorkflowSpec struct {
	Entrypoint         string          `json:"entrypoint"`
	ServiceAccountName string          `json:"serviceAccountName,omitempty"`
	Arguments          Arguments       `json:"arguments,omitempty"`
	Templates          []Template      `json:"templates"`
	Volumes            []corev1.Volume `json:"volumes,omitempty"`
}

// Arguments are parameters passed to a template or workflow.
type Arguments struct {
	Parameters []ArgoParameter `json:"parameters,omitempty"`
}

// Inputs are template input parameters.
type Inputs struct {
	Parameters []ArgoParameter `json:"parameters,omitempty"`
}

// Outputs are template output parameters.
type Outputs struct {
	Parameters []ArgoParameter `json:"parameters,omitempty"`
}

// ArgoParameter is an Argo parameter.
type ArgoParameter struct {
	Name      string     `json:"name"`
	Value     *string    `json:"value,omitempty"`
	ValueFrom *ValueFrom `json:"valueFrom,omitempty"`
}

// ValueFrom reads a parameter from a file in the container.
type ValueFrom struct {
	Path string `json:"path"`
}

// Template is an Argo template, either a DAG or a container.
type Template struct {
	Name      string            `json:"name"`
	Inputs    Inputs            `json:"inputs,omitempty"`
	Outputs   Outputs           `json:"outputs,omitempty"`
	Metadata  *TemplateMetadata `json:"metadata,omitempty"`
	DAG       *DAG              `json:"dag,omitempty"`
	Container *corev1.Container `json:"container,omitempty"`
}

// TemplateMetadata labels the pods of a template.
type TemplateMetadata struct {
	Labels map[string]string `json:"labels,omitempty"`
}

// DAG lists the tasks of a DAG template.
type DAG struct {
	Tasks []DAGTask `json:"tasks"`
}

// DAGTask runs a template inside a DAG.
type DAGTask struct {
	Name         string    `json:"name"`
	Template     string    `json:"template"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Arguments    Arguments `json:"arguments,omitempty"`
}

type pipelineSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Inputs      []specInput `json:"inputs,omitempty"`
}

type specInput struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default string `json:"default,omitempty"`
}

// Compile validates p and converts it into an Argo Workflow. A non-empty
// runID is added as a label on the workflow and its pods.
func Compile(p *Pipeline, runID string) (*Workflow, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	order, err := p.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	spec, err := json.Marshal(pipelineSpecOf(p))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to encode pipeline spec", err)
	}

	labels := metadata.Labels(map[string]string{defaults.LabelSystem: defaults.SystemName}, runID)

	wf := &Workflow{
		TypeMeta: metav1.TypeMeta{APIVersion: WorkflowAPIVersion, Kind: WorkflowKind},
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: p.Name + "-",
			Labels:       labels,
			Annotations:  map[string]string{AnnotationPipelineSpec: string(spec)},
		},
		Spec: WorkflowSpec{
			Entrypoint: p.Name,
			Arguments:  Arguments{Parameters: parameterValues(p.Parameters)},
		},
	}

	entry := Template{
		Name:   p.Name,
		Inputs: Inputs{Parameters: parameterNames(p.Parameters)},
		DAG:    &DAG{},
	}

	var mounts []corev1.VolumeMount
	for _, v := range p.Volumes {
		wf.Spec.Volumes = append(wf.Spec.Volumes, corev1.Volume{
			Name: v.Name,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: v.ClaimName},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: v.Name, MountPath: v.MountPath})
	}

	templates := make([]Template, 0, len(order))
	for _, s := range order {
		task := DAGTask{
			Name:         s.Name,
			Template:     s.Name,
			Dependencies: s.DependsOn,
		}
		for _, in := range s.Inputs {
			task.Arguments.Parameters = append(task.Arguments.Parameters,
				ArgoParameter{Name: in, Value: ptr.To(fmt.Sprintf("{{inputs.parameters.%s}}", in))})
		}
		entry.DAG.Tasks = append(entry.DAG.Tasks, task)

		t := Template{
			Name:     s.Name,
			Metadata: &TemplateMetadata{Labels: labels},
			Container: &corev1.Container{
				Name:         s.Name,
				Image:        s.Image,
				Command:      s.Command,
				Args:         s.Args,
				VolumeMounts: mounts,
			},
		}
		for _, in := range s.Inputs {
			t.Inputs.Parameters = append(t.Inputs.Parameters, ArgoParameter{Name: in})
		}
		for _, out := range s.Outputs {
			t.Outputs.Parameters = append(t.Outputs.Parameters, ArgoParameter{
				Name:      out,
				ValueFrom: &ValueFrom{Path: path.Join(OutputDir, out, "data")},
			})
		}
		templates = append(templates, t)
	}

	wf.Spec.Templates = append([]Template{entry}, templates...)
	return wf, nil
}

// Marshal renders the workflow as YAML.
func (wf *Workflow) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(wf)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to encode workflow", err)
	}
	return data, nil
}

// ParseWorkflow decodes a workflow rendered by Marshal.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.UnmarshalStrict(data, &wf); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "failed to decode workflow", err)
	}
	return &wf, nil
}

func pipelineSpecOf(p *Pipeline) pipelineSpec {
	s := pipelineSpec{Name: p.Name, Description: p.Description}
	for _, prm := range p.Parameters {
		s.Inputs = append(s.Inputs, specInput{Name: prm.Name, Type: prm.kfpType(), Default: prm.Default})
	}
	return s
}

func parameterValues(params []Parameter) []ArgoParameter {
	out := make([]ArgoParameter, 0, len(params))
	for _, prm := range params {
		out = append(out, ArgoParameter{Name: prm.Name, Value: ptr.To(prm.Default)})
	}
	return out
}

func parameterNames(params []Parameter) []ArgoParameter {
	out := make([]ArgoParameter, 0, len(params))
	for _, prm := range params {
		out = append(out, ArgoParameter{Name: prm.Name})
	}
	return out
}
