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
	"slices"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// Conditions returns the status conditions of the PyTorchJob.
func (c *Client) Conditions(ctx context.Context, name, namespace string) ([]Condition, error) {
	job, err := c.Get(ctx, name, namespace)
	if err != nil {
		return nil, err
	}
	return JobConditions(job), nil
}

// WaitForConditions polls the PyTorchJob until one of the expected
// condition types is True and returns the job. expected defaults to
// Succeeded. A True Failed condition ends the wait with FAILED unless Failed
// is expected, and a True Succeeded condition that is not expected ends it
// with CONFLICT since the job can no longer reach the expected state.
func (c *Client) WaitForConditions(ctx context.Context, name, namespace string, expected []string, timeout, interval time.Duration) (*unstructured.Unstructured, error) {
	if len(expected) == 0 {
		expected = []string{ConditionSucceeded}
	}

	var job *unstructured.Unstructured
	var failed, finished *Condition
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true,
		func(ctx context.Context) (bool, error) {
			obj, err := c.dynamic.Resource(GVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				return false, err
			}
			job = obj

			conds := JobConditions(obj)
			for i := len(conds) - 1; i >= 0; i-- {
				cond := conds[i]
				if cond.Status != string(metav1.ConditionTrue) {
					continue
				}
				if slices.Contains(expected, cond.Type) {
					return true, nil
				}
				switch cond.Type {
				case ConditionFailed:
					failed = &cond
					return true, nil
				case ConditionSucceeded:
					finished = &cond
					return true, nil
				}
			}
			slog.Debug("waiting for pytorchjob", "name", name, "conditions", summary(conds))
			return false, nil
		},
	)

	switch {
	case err == nil && failed != nil:
		return job, apperrors.NewWithContext(apperrors.ErrCodeFailed, "pytorchjob failed",
			map[string]any{"name": name, "namespace": namespace, "reason": failed.Reason, "message": failed.Message})
	case err == nil && finished != nil:
		return job, apperrors.NewWithContext(apperrors.ErrCodeConflict, "pytorchjob already succeeded",
			map[string]any{"name": name, "namespace": namespace, "expected": expected})
	case err == nil:
		return job, nil
	case wait.Interrupted(err):
		return job, apperrors.WrapWithContext(apperrors.ErrCodeTimeout,
			fmt.Sprintf("timeout waiting for PyTorchJob conditions %v", expected), err,
			map[string]any{"name": name, "namespace": namespace, "timeout": timeout.String()})
	default:
		return job, apperrors.FromKubernetes(fmt.Sprintf("failed waiting for PyTorchJob %q", name), err)
	}
}

// JobConditions returns the status conditions of job.
func JobConditions(job *unstructured.Unstructured) []Condition {
	raw, _, _ := unstructured.NestedSlice(job.Object, "status", "conditions")
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

// HasCondition reports whether job has condType with status True.
func HasCondition(job *unstructured.Unstructured, condType string) bool {
	for _, c := range JobConditions(job) {
		if c.Type == condType && c.Status == string(metav1.ConditionTrue) {
			return true
		}
	}
	return false
}

// IsSucceeded reports whether the job succeeded.
func IsSucceeded(job *unstructured.Unstructured) bool {
	return HasCondition(job, ConditionSucceeded)
}

// IsFailed reports whether the job failed.
func IsFailed(job *unstructured.Unstructured) bool {
	return HasCondition(job, ConditionFailed)
}

// ReplicaStatuses returns the pod counts per replica type.
func ReplicaStatuses(job *unstructured.Unstructured) map[string]ReplicaStatus {
	raw, _, _ := unstructured.NestedMap(job.Object, "status", "replicaStatuses")
	out := make(map[string]ReplicaStatus, len(raw))
	for rt, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out[rt] = ReplicaStatus{
			Active:    toInt32(m["active"]),
			Succeeded: toInt32(m["succeeded"]),
			Failed:    toInt32(m["failed"]),
		}
	}
	return out
}

func toInt32(v any) int32 {
	switch n := v.(type) {
	case int64:
		return int32(n)
	case int32:
		return n
	case int:
		return int32(n)
	case float64:
		return int32(n)
	default:
		return 0
	}
}

func summary(conds []Condition) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		parts = append(parts, c.Type+"="+c.Status)
	}
	return strings.Join(parts, ",")
}
