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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

func stepNames(steps []Step) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Name)
	}
	return names
}

func TestPyTorchMNIST_Valid(t *testing.T) {
	p := PyTorchMNIST()
	require.NoError(t, p.Validate())

	prm, ok := p.Parameter("epochs")
	require.True(t, ok)
	assert.Equal(t, "10", prm.Default)
	assert.Equal(t, TypeInt, prm.Type)

	order, err := p.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"download", "train"}, stepNames(order))
}

func TestValidate(t *testing.T) {
	img := "python:3.8-slim"
	tests := []struct {
		name    string
		mutate  func(p *Pipeline)
		wantErr string
	}{
		{name: "bad pipeline name", mutate: func(p *Pipeline) { p.Name = "Bad_Name" }, wantErr: "invalid pipeline name"},
		{name: "no steps", mutate: func(p *Pipeline) { p.Steps = nil }, wantErr: "has no steps"},
		{name: "duplicate step", mutate: func(p *Pipeline) {
			p.Steps = append(p.Steps, Step{Name: "a", Image: img})
		}, wantErr: "duplicate step"},
		{name: "unknown dependency", mutate: func(p *Pipeline) { p.Steps[1].DependsOn = []string{"zzz"} }, wantErr: "unknown step"},
		{name: "self dependency", mutate: func(p *Pipeline) { p.Steps[0].DependsOn = []string{"a"} }, wantErr: "depends on itself"},
		{name: "cycle", mutate: func(p *Pipeline) { p.Steps[0].DependsOn = []string{"b"} }, wantErr: "dependency cycle"},
		{name: "missing image", mutate: func(p *Pipeline) { p.Steps[0].Image = "" }, wantErr: "has no image"},
		{name: "bad image", mutate: func(p *Pipeline) { p.Steps[0].Image = "UPPER/case" }, wantErr: "invalid image"},
		{name: "unknown input", mutate: func(p *Pipeline) { p.Steps[0].Inputs = []string{"nope"} }, wantErr: "unknown parameter"},
		{name: "unlisted reference", mutate: func(p *Pipeline) {
			p.Steps[0].Args = []string{"{{inputs.parameters.epochs}}"}
		}, wantErr: "not listed in inputs"},
		{name: "bad int default", mutate: func(p *Pipeline) { p.Parameters[0].Default = "ten" }, wantErr: "is not an int"},
		{name: "unknown type", mutate: func(p *Pipeline) { p.Parameters[0].Type = "bool" }, wantErr: "unknown type"},
		{name: "duplicate parameter", mutate: func(p *Pipeline) {
			p.Parameters = append(p.Parameters, Parameter{Name: "epochs"})
		}, wantErr: "duplicate parameter"},
		{name: "relative mount", mutate: func(p *Pipeline) {
			p.Volumes = []Volume{{Name: "data", ClaimName: "claim", MountPath: "mnt"}}
		}, wantErr: "must be absolute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Pipeline{
				Name:       "demo",
				Parameters: []Parameter{{Name: "epochs", Type: TypeInt, Default: "1"}},
				Steps: []Step{
					{Name: "a", Image: img},
					{Name: "b", Image: img, DependsOn: []string{"a"}},
				},
			}
			require.NoError(t, p.Validate())

			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTopologicalOrder_Diamond(t *testing.T) {
	p := &Pipeline{
		Name: "diamond",
		Steps: []Step{
			{Name: "join", Image: "busybox", DependsOn: []string{"left", "right"}},
			{Name: "right", Image: "busybox", DependsOn: []string{"root"}},
			{Name: "left", Image: "busybox", DependsOn: []string{"root"}},
			{Name: "root", Image: "busybox"},
		},
	}
	order, err := p.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "right", "left", "join"}, stepNames(order))
}

func TestSetParameter(t *testing.T) {
	p := PyTorchMNIST()
	require.NoError(t, p.SetParameter("epochs", "3"))
	prm, _ := p.Parameter("epochs")
	assert.Equal(t, "3", prm.Default)

	err := p.SetParameter("epochs", "three")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))

	err = p.SetParameter("momentum", "0.9")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
	assert.False(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestCompile(t *testing.T) {
	runID := "0f8fad5b-d9cb-469f-a165-70867728950e"
	wf, err := Compile(PyTorchMNIST(), runID)
	require.NoError(t, err)

	assert.Equal(t, WorkflowAPIVersion, wf.APIVersion)
	assert.Equal(t, WorkflowKind, wf.Kind)
	assert.Equal(t, "pytorch-mnist-", wf.GenerateName)
	assert.Equal(t, runID, wf.Labels["traindb.io/run-id"])
	assert.Equal(t, "pytorch-mnist", wf.Spec.Entrypoint)

	var spec pipelineSpec
	require.NoError(t, json.Unmarshal([]byte(wf.Annotations[AnnotationPipelineSpec]), &spec))
	assert.Equal(t, "pytorch-mnist", spec.Name)
	require.Len(t, spec.Inputs, 5)
	assert.Equal(t, specInput{Name: "learning_rate", Type: "Float", Default: "0.001"}, spec.Inputs[3])

	require.Len(t, wf.Spec.Templates, 3)
	entry := wf.Spec.Templates[0]
	require.NotNil(t, entry.DAG)
	require.Len(t, entry.DAG.Tasks, 2)
	assert.Equal(t, "download", entry.DAG.Tasks[0].Name)
	assert.Equal(t, []string{"download"}, entry.DAG.Tasks[1].Dependencies)

	train := wf.Spec.Templates[2]
	require.NotNil(t, train.Container)
	assert.Equal(t, MNISTImage, train.Container.Image)
	require.Len(t, train.Container.VolumeMounts, 1)
	assert.Equal(t, "/mnt", train.Container.VolumeMounts[0].MountPath)
	require.Len(t, train.Outputs.Parameters, 1)
	assert.Equal(t, "/tmp/outputs/model/data", train.Outputs.Parameters[0].ValueFrom.Path)

	require.Len(t, wf.Spec.Volumes, 1)
	assert.Equal(t, "learned-model-claim", wf.Spec.Volumes[0].PersistentVolumeClaim.ClaimName)

	args := map[string]string{}
	for _, a := range wf.Spec.Arguments.Parameters {
		args[a.Name] = *a.Value
	}
	want := map[string]string{
		"data_path":     "/mnt/data/mnist",
		"model_path":    "/mnt/model/model.pt",
		"epochs":        "10",
		"learning_rate": "0.001",
		"batch_size":    "64",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("workflow arguments mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_NoRunID(t *testing.T) {
	wf, err := Compile(PyTorchMNIST(), "")
	require.NoError(t, err)
	_, ok := wf.Labels["traindb.io/run-id"]
	assert.False(t, ok)
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile(&Pipeline{Name: "empty"}, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
}

func TestArchive(t *testing.T) {
	wf, err := Compile(PyTorchMNIST(), "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, wf))

	got, err := ReadArchive(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(wf.Spec, got.Spec); diff != "" {
		t.Errorf("archive round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteArchiveFile(t *testing.T) {
	wf, err := Compile(PyTorchMNIST(), "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "pytorch-mnist.tar.gz")
	require.NoError(t, WriteArchiveFile(path, wf))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := ReadArchive(f)
	require.NoError(t, err)
	assert.Equal(t, "pytorch-mnist-", got.GenerateName)
}

func TestReadArchive_NotGzip(t *testing.T) {
	_, err := ReadArchive(strings.NewReader("plain text"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
}

const definition = `name: preprocess
description: Normalize a table sample
parameters:
  - name: table
    default: instacart.order_products
  - name: rows
    type: int
    default: 1000
steps:
  - name: sample
    image: traindb/sampler:0.1
    args: ["--table", "{{inputs.parameters.table}}", "--rows", "{{inputs.parameters.rows}}"]
    inputs: [table, rows]
  - name: normalize
    image: traindb/normalizer:0.1
    dependsOn: [sample]
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definition), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "preprocess", p.Name)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, []string{"table", "rows"}, p.Steps[0].References())

	prm, ok := p.Parameter("rows")
	require.True(t, ok)
	assert.Equal(t, "1000", prm.Default)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	_, err = Parse([]byte(""))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))

	_, err = Parse([]byte("name: x\nunknown: true\nsteps: []\n"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
}
