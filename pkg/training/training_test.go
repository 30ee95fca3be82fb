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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

func newTestClient(pods ...runtime.Object) (*Client, *dynamicfake.FakeDynamicClient, *fake.Clientset) {
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{GVR: "PyTorchJobList"})
	kube := fake.NewClientset(pods...)
	c := NewClient(dyn, kube, Config{
		DeletionTimeout: 500 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
	})
	return c, dyn, kube
}

func withConditions(job *unstructured.Unstructured, conds ...Condition) {
	items := make([]any, 0, len(conds))
	for _, c := range conds {
		items = append(items, map[string]any{
			"type":    c.Type,
			"status":  c.Status,
			"reason":  c.Reason,
			"message": c.Message,
		})
	}
	_ = unstructured.SetNestedSlice(job.Object, items, "status", "conditions")
}

func createJob(t *testing.T, dyn *dynamicfake.FakeDynamicClient, job *unstructured.Unstructured) {
	t.Helper()
	_, err := dyn.Resource(GVR).Namespace(job.GetNamespace()).Create(context.Background(), job, metav1.CreateOptions{})
	require.NoError(t, err)
}

func TestDefaultJobSpec(t *testing.T) {
	spec := DefaultJobSpec()
	require.NoError(t, spec.Validate())
	assert.Equal(t, "pytorch-dist-mnist-gloo", spec.Name)
	assert.Equal(t, "traindb", spec.Namespace)
	assert.Equal(t, []string{"--backend", "gloo"}, spec.Args)
	assert.Equal(t, int32(1), spec.Replicas[ReplicaMaster])
	assert.Equal(t, int32(1), spec.Replicas[ReplicaWorker])
}

func TestJobSpec_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *JobSpec)
	}{
		{name: "bad name", mutate: func(s *JobSpec) { s.Name = "Bad_Name" }},
		{name: "bad namespace", mutate: func(s *JobSpec) { s.Namespace = "" }},
		{name: "bad image", mutate: func(s *JobSpec) { s.Image = "Not/Valid" }},
		{name: "no master", mutate: func(s *JobSpec) { s.Replicas = map[ReplicaType]int32{ReplicaWorker: 2} }},
		{name: "two masters", mutate: func(s *JobSpec) { s.Replicas[ReplicaMaster] = 2 }},
		{name: "unknown replica", mutate: func(s *JobSpec) { s.Replicas["Chief"] = 1 }},
		{name: "negative workers", mutate: func(s *JobSpec) { s.Replicas[ReplicaWorker] = -1 }},
		{name: "restart policy", mutate: func(s *JobSpec) { s.RestartPolicy = "Sometimes" }},
		{name: "clean pod policy", mutate: func(s *JobSpec) { s.CleanPodPolicy = "Some" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := DefaultJobSpec()
			tt.mutate(&spec)
			err := spec.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
		})
	}
}

func TestBuild(t *testing.T) {
	spec := DefaultJobSpec()
	spec.RunID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	job, err := Build(spec)
	require.NoError(t, err)

	assert.Equal(t, APIVersion, job.GetAPIVersion())
	assert.Equal(t, Kind, job.GetKind())
	assert.Equal(t, spec.Name, job.GetName())
	assert.Equal(t, spec.Namespace, job.GetNamespace())
	assert.Equal(t, spec.RunID, job.GetLabels()["traindb.io/run-id"])
	assert.Equal(t, "traindb", job.GetLabels()["system"])

	policy, _, _ := unstructured.NestedString(job.Object, "spec", "runPolicy", "cleanPodPolicy")
	assert.Equal(t, "None", policy)

	for _, rt := range []string{"Master", "Worker"} {
		replicas, found, err := unstructured.NestedInt64(job.Object, "spec", "pytorchReplicaSpecs", rt, "replicas")
		require.NoError(t, err)
		require.True(t, found, rt)
		assert.Equal(t, int64(1), replicas)

		restart, _, _ := unstructured.NestedString(job.Object, "spec", "pytorchReplicaSpecs", rt, "restartPolicy")
		assert.Equal(t, "OnFailure", restart)

		tmpl, found, err := unstructured.NestedMap(job.Object, "spec", "pytorchReplicaSpecs", rt, "template")
		require.NoError(t, err)
		require.True(t, found)

		var pt corev1.PodTemplateSpec
		require.NoError(t, runtime.DefaultUnstructuredConverter.FromUnstructured(tmpl, &pt))
		assert.Equal(t, "false", pt.Annotations["sidecar.istio.io/inject"])
		require.Len(t, pt.Spec.Containers, 1)
		assert.Equal(t, "pytorch", pt.Spec.Containers[0].Name)
		assert.Equal(t, DefaultImage, pt.Spec.Containers[0].Image)
		assert.Equal(t, []string{"--backend", "gloo"}, pt.Spec.Containers[0].Args)
	}

	// the object must survive a deep copy
	assert.NotPanics(t, func() { job.DeepCopy() })
}

func TestBuild_OmitsEmptyReplicaGroup(t *testing.T) {
	spec := DefaultJobSpec()
	spec.Replicas = map[ReplicaType]int32{ReplicaMaster: 1}

	job, err := Build(spec)
	require.NoError(t, err)
	_, found, _ := unstructured.NestedMap(job.Object, "spec", "pytorchReplicaSpecs", "Worker")
	assert.False(t, found)
}

func TestSubmit_ReplacesExisting(t *testing.T) {
	ctx := context.Background()
	c, dyn, _ := newTestClient()

	spec := DefaultJobSpec()
	old, err := Build(spec)
	require.NoError(t, err)
	old.SetLabels(map[string]string{"generation": "old"})
	createJob(t, dyn, old)

	_, err = c.Submit(ctx, spec)
	require.NoError(t, err)

	job, err := c.Get(ctx, spec.Name, spec.Namespace)
	require.NoError(t, err)
	assert.NotContains(t, job.GetLabels(), "generation")

	var verbs []string
	for _, a := range dyn.Actions() {
		verbs = append(verbs, a.GetVerb())
	}
	assert.Equal(t, []string{"create", "delete", "get", "create", "get"}, verbs)
}

func TestSubmit_New(t *testing.T) {
	c, _, _ := newTestClient()
	job, err := c.Submit(context.Background(), DefaultJobSpec())
	require.NoError(t, err)
	assert.Equal(t, DefaultName, job.GetName())
}

func TestWaitDeleted_Timeout(t *testing.T) {
	ctx := context.Background()
	c, dyn, _ := newTestClient()

	job, err := Build(DefaultJobSpec())
	require.NoError(t, err)
	createJob(t, dyn, job)

	// deletion never completes
	dyn.PrependReactor("delete", "pytorchjobs", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, nil
	})

	_, err = c.Submit(ctx, DefaultJobSpec())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTimeout))
}

func TestDelete_Missing(t *testing.T) {
	c, _, _ := newTestClient()
	existed, err := c.Delete(context.Background(), "missing", "traindb")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestWaitForConditions(t *testing.T) {
	tests := []struct {
		name     string
		conds    []Condition
		expected []string
		code     apperrors.ErrorCode
	}{
		{
			name:  "succeeded",
			conds: []Condition{{Type: "Created", Status: "True"}, {Type: "Running", Status: "False"}, {Type: "Succeeded", Status: "True"}},
		},
		{
			name:  "failed",
			conds: []Condition{{Type: "Created", Status: "True"}, {Type: "Failed", Status: "True", Reason: "PyTorchJobFailed"}},
			code:  apperrors.ErrCodeFailed,
		},
		{
			name:     "failed expected",
			conds:    []Condition{{Type: "Failed", Status: "True"}},
			expected: []string{"Succeeded", "Failed"},
		},
		{
			name:     "running expected",
			conds:    []Condition{{Type: "Created", Status: "True"}, {Type: "Running", Status: "True"}},
			expected: []string{"Running"},
		},
		{
			name:     "succeeded before expected",
			conds:    []Condition{{Type: "Created", Status: "True"}, {Type: "Running", Status: "False"}, {Type: "Succeeded", Status: "True"}},
			expected: []string{"Running"},
			code:     apperrors.ErrCodeConflict,
		},
		{
			name:  "timeout",
			conds: []Condition{{Type: "Created", Status: "True"}, {Type: "Running", Status: "True"}},
			code:  apperrors.ErrCodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, dyn, _ := newTestClient()
			job, err := Build(DefaultJobSpec())
			require.NoError(t, err)
			withConditions(job, tt.conds...)
			createJob(t, dyn, job)

			got, err := c.WaitForConditions(context.Background(), DefaultName, DefaultNamespace,
				tt.expected, 100*time.Millisecond, 10*time.Millisecond)
			if tt.code != "" {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, tt.code), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultName, got.GetName())
		})
	}
}

func TestWaitForConditions_NotFound(t *testing.T) {
	c, _, _ := newTestClient()
	_, err := c.WaitForConditions(context.Background(), "missing", "traindb", nil, time.Second, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestConditionHelpers(t *testing.T) {
	job, err := Build(DefaultJobSpec())
	require.NoError(t, err)
	withConditions(job, Condition{Type: "Succeeded", Status: "True"})
	require.NoError(t, unstructured.SetNestedMap(job.Object, map[string]any{
		"Master": map[string]any{"succeeded": int64(1)},
		"Worker": map[string]any{"active": int64(2), "failed": int64(1)},
	}, "status", "replicaStatuses"))

	assert.True(t, IsSucceeded(job))
	assert.False(t, IsFailed(job))

	statuses := ReplicaStatuses(job)
	assert.Equal(t, ReplicaStatus{Succeeded: 1}, statuses["Master"])
	assert.Equal(t, ReplicaStatus{Active: 2, Failed: 1}, statuses["Worker"])

	c, dyn, _ := newTestClient()
	createJob(t, dyn, job)
	conds, err := c.Conditions(context.Background(), DefaultName, DefaultNamespace)
	require.NoError(t, err)
	require.Len(t, conds, 1)
	assert.Equal(t, "Succeeded", conds[0].Type)
}

func jobPod(name, replicaType string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: DefaultNamespace,
			Labels: map[string]string{
				LabelJobName:     DefaultName,
				LabelReplicaType: replicaType,
			},
		},
	}
}

func TestLogs(t *testing.T) {
	c, _, _ := newTestClient(
		jobPod("pytorch-dist-mnist-gloo-master-0", "master"),
		jobPod("pytorch-dist-mnist-gloo-worker-0", "worker"),
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "unrelated", Namespace: DefaultNamespace}},
	)

	logs, err := c.Logs(context.Background(), DefaultName, DefaultNamespace, DefaultContainer, false)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Contains(t, logs, "pytorch-dist-mnist-gloo-worker-0")

	logs, err = c.Logs(context.Background(), DefaultName, DefaultNamespace, DefaultContainer, true)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Contains(t, logs, "pytorch-dist-mnist-gloo-master-0")
}

func TestLogs_NoPods(t *testing.T) {
	c, _, _ := newTestClient()
	_, err := c.Logs(context.Background(), DefaultName, DefaultNamespace, DefaultContainer, false)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}
