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

package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
	"github.com/traindb-project/traindb-ml/pkg/k8s/client"
	"github.com/traindb-project/traindb-ml/pkg/pipeline"
	"github.com/traindb-project/traindb-ml/pkg/serving"
	"github.com/traindb-project/traindb-ml/pkg/training"
)

// useFakeClients points the commands at fake clients for the test.
func useFakeClients(t *testing.T) *client.Clients {
	t.Helper()
	c := &client.Clients{
		Kube: fake.NewClientset(),
		Dynamic: dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
			map[schema.GroupVersionResource]string{
				serving.GVR:  "InferenceServiceList",
				training.GVR: "PyTorchJobList",
			}),
	}
	prev := newClients
	newClients = func(string) (*client.Clients, error) { return c, nil }
	t.Cleanup(func() { newClients = prev })
	return c
}

func TestPipelineCompile(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "out", "mnist.tar.gz")
	metricsFile := filepath.Join(dir, "tdbml.prom")

	out, err := run(t, "--metrics-file", metricsFile,
		"pipeline", "compile", "--output", archive, "--param", "epochs=3", "--format", "json")
	require.NoError(t, err)

	var res compileResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, pipeline.MNISTName, res.Pipeline)
	assert.Equal(t, archive, res.Archive)
	assert.Equal(t, []string{"download", "train"}, res.Steps)
	assert.NotEmpty(t, res.RunID)
	assert.Nil(t, res.Pushed)

	f, err := os.Open(archive)
	require.NoError(t, err)
	defer f.Close()
	wf, err := pipeline.ReadArchive(f)
	require.NoError(t, err)
	assert.Equal(t, pipeline.MNISTName+"-", wf.GenerateName)
	assert.Equal(t, res.RunID, wf.Labels[defaults.LabelRunID])

	var epochs string
	for _, p := range wf.Spec.Arguments.Parameters {
		if p.Name == "epochs" && p.Value != nil {
			epochs = *p.Value
		}
	}
	assert.Equal(t, "3", epochs)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `tdbml_operation_total{operation="pipeline.compile",status="success"}`)
}

func TestPipelineCompile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "pipeline", "compile", "--output", filepath.Join(dir, "a.tar.gz"), "--param", "unknown=1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))

	_, err = run(t, "pipeline", "compile", "--file", filepath.Join(dir, "missing.yaml"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	_, err = run(t, "pipeline", "compile", "--output", filepath.Join(dir, "b.tar.gz"), "--push", "registry.example.com/x:y")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
	_, statErr := os.Stat(filepath.Join(dir, "b.tar.gz"))
	assert.True(t, os.IsNotExist(statErr), "bad push target must fail before compiling")
}

func TestStorageRender(t *testing.T) {
	conf := t.TempDir()
	out, err := run(t, "storage", "render", "--conf-path", conf, "--namespace", "tenant", "--format", "json")
	require.NoError(t, err)

	var files map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &files))
	assert.Equal(t, filepath.Join(conf, "tenant-pv.yaml"), files["pv"])
	assert.Equal(t, filepath.Join(conf, "tenant-pvc.yaml"), files["pvc"])
	assert.FileExists(t, files["pv"])
	assert.FileExists(t, files["pvc"])
}

func TestStorageInit_DryRun(t *testing.T) {
	conf := t.TempDir()
	out, err := run(t, "storage", "init", "--conf-path", conf, "--namespace", "tenant", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "kind: PersistentVolume\n")
	assert.Contains(t, out, "kind: PersistentVolumeClaim\n")
	assert.Contains(t, out, "tenant-volume")
	assert.Contains(t, out, "\n---\n")
	assert.Contains(t, out, "# "+filepath.Join(conf, "tenant-pv.yaml"))

	entries, err := os.ReadDir(conf)
	require.NoError(t, err)
	assert.Empty(t, entries, "dry run must not write manifests")
}

func TestStorageNamespace(t *testing.T) {
	c := useFakeClients(t)

	_, err := run(t, "storage", "namespace", "create", "tenant")
	require.NoError(t, err)
	_, err = c.Kube.CoreV1().Namespaces().Get(context.Background(), "tenant", metav1.GetOptions{})
	require.NoError(t, err)

	_, err = run(t, "storage", "namespace", "delete", "tenant")
	require.NoError(t, err)

	_, err = run(t, "storage", "namespace", "delete", "tenant")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	_, err = run(t, "storage", "namespace", "create")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
}

func TestDockerfileGenerate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0o600))

	out, err := run(t, "dockerfile", "generate", "--dir", dir, "--skip-freeze", "--format", "json")
	require.NoError(t, err)

	var res map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "main.py", res["source"])
	assert.Equal(t, defaults.BaseImage, res["baseImage"])

	data, err := os.ReadFile(filepath.Join(dir, defaults.DockerfileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `CMD ["python", "/app/main.py"]`)
	assert.FileExists(t, filepath.Join(dir, defaults.RequirementsName))
}

func TestImageBuild_RequiresTarget(t *testing.T) {
	_, err := run(t, "image", "build", "--context", t.TempDir())
	assert.Error(t, err)
}

func TestServeStatus(t *testing.T) {
	c := useFakeClients(t)

	isvc, err := serving.ModelServer{ModelType: "pytorch", ModelName: "mnist"}.
		InferenceService(defaults.Namespace, "pvc://learned-model-claim/mnist")
	require.NoError(t, err)
	_ = unstructured.SetNestedSlice(isvc.Object, []any{
		map[string]any{"type": "Ready", "status": "True"},
	}, "status", "conditions")
	_ = unstructured.SetNestedField(isvc.Object, "http://mnist.example.com", "status", "url")
	_, err = c.Dynamic.Resource(serving.GVR).Namespace(defaults.Namespace).
		Create(context.Background(), isvc, metav1.CreateOptions{})
	require.NoError(t, err)

	out, err := run(t, "serve", "status", "--model-name", "mnist", "--format", "json")
	require.NoError(t, err)

	var st serving.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "traindb-ml-serve-pytorch-mnist", st.Name)
	assert.True(t, st.Ready)
	assert.Equal(t, "http://mnist.example.com", st.URL)
	assert.Equal(t, "pvc://learned-model-claim/mnist", st.StorageURI)

	_, err = run(t, "serve", "delete", "traindb-ml-serve-pytorch-mnist")
	require.NoError(t, err)

	_, err = run(t, "serve", "status", "traindb-ml-serve-pytorch-mnist")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestServePredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models/mnist:predict" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Instances [][]float64 `json:"instances"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		preds := make([]float64, 0, len(req.Instances))
		for _, in := range req.Instances {
			preds = append(preds, in[0])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"predictions": preds})
	}))
	defer srv.Close()

	input := filepath.Join(t.TempDir(), "instances.json")
	require.NoError(t, os.WriteFile(input, []byte(`[[1, 2], [3, 4], [5, 6]]`), 0o600))

	out, err := run(t, "serve", "predict", "--model-name", "mnist", "--model", "mnist",
		"--model-uri", srv.URL, "--input", input, "--batch-size", "2", "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"predictions": [1, 3, 5]}`, out)

	require.NoError(t, os.WriteFile(input, []byte(`{"not": "an array"}`), 0o600))
	_, err = run(t, "serve", "predict", "--model-name", "mnist", "--model-uri", srv.URL, "--input", input)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
}

func TestServePredict_NotReady(t *testing.T) {
	c := useFakeClients(t)

	isvc, err := serving.ModelServer{ModelType: "pytorch", ModelName: "mnist"}.
		InferenceService(defaults.Namespace, "pvc://learned-model-claim/mnist")
	require.NoError(t, err)
	_, err = c.Dynamic.Resource(serving.GVR).Namespace(defaults.Namespace).
		Create(context.Background(), isvc, metav1.CreateOptions{})
	require.NoError(t, err)

	input := filepath.Join(t.TempDir(), "instances.json")
	require.NoError(t, os.WriteFile(input, []byte(`[[1]]`), 0o600))

	_, err = run(t, "serve", "predict", "--model-name", "mnist", "--input", input)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnavailable))
}

func TestTrainSubmit(t *testing.T) {
	c := useFakeClients(t)
	runID := "0b5a4f3e-8a7e-4b8c-9d53-1f6c2b1d9e10"

	out, err := run(t, "train", "submit", "--workers", "2", "--run-id", runID,
		"--annotation", "team=ml", "--format", "json")
	require.NoError(t, err)

	var st jobStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, training.DefaultName, st.Name)
	assert.Equal(t, training.DefaultNamespace, st.Namespace)
	assert.Equal(t, runID, st.RunID)

	job, err := c.Dynamic.Resource(training.GVR).Namespace(training.DefaultNamespace).
		Get(context.Background(), training.DefaultName, metav1.GetOptions{})
	require.NoError(t, err)
	workers, _, _ := unstructured.NestedInt64(job.Object, "spec", "pytorchReplicaSpecs", "Worker", "replicas")
	assert.Equal(t, int64(2), workers)
	annotations, _, _ := unstructured.NestedStringMap(job.Object,
		"spec", "pytorchReplicaSpecs", "Master", "template", "metadata", "annotations")
	assert.Equal(t, "ml", annotations["team"])
	assert.Equal(t, "false", annotations["sidecar.istio.io/inject"])
}

func TestTrainSubmit_InvalidSpec(t *testing.T) {
	useFakeClients(t)
	_, err := run(t, "train", "submit", "--restart-policy", "Sometimes")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
}

func TestTrainStatusAndDelete(t *testing.T) {
	c := useFakeClients(t)

	spec := training.DefaultJobSpec()
	job, err := training.Build(spec)
	require.NoError(t, err)
	_ = unstructured.SetNestedSlice(job.Object, []any{
		map[string]any{"type": training.ConditionCreated, "status": "True"},
		map[string]any{"type": training.ConditionSucceeded, "status": "True"},
	}, "status", "conditions")
	_, err = c.Dynamic.Resource(training.GVR).Namespace(spec.Namespace).
		Create(context.Background(), job, metav1.CreateOptions{})
	require.NoError(t, err)

	out, err := run(t, "train", "status", "--format", "json", spec.Name)
	require.NoError(t, err)
	var st jobStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Succeeded)
	assert.False(t, st.Failed)
	assert.Len(t, st.Conditions, 2)

	out, err = run(t, "train", "wait", "--timeout", "1s", "--poll-interval", "10ms", "--format", "json", spec.Name)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Succeeded)

	_, err = run(t, "train", "delete", spec.Name)
	require.NoError(t, err)
	_, err = run(t, "train", "status", spec.Name)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	// deleting a missing job is not an error
	_, err = run(t, "train", "delete", spec.Name)
	require.NoError(t, err)
}

func TestTrainLogs_NoPods(t *testing.T) {
	useFakeClients(t)
	_, err := run(t, "train", "logs", "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestReadInstances(t *testing.T) {
	got, err := readInstances("", strings.NewReader(`[1, "two"]`))
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), "two"}, got)

	_, err = readInstances(filepath.Join(t.TempDir(), "nope.json"), nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}
