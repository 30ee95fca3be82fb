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
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// maxParallelLogs bounds concurrent log requests.
const maxParallelLogs = 4

// Logs returns the logs of container for every pod of the PyTorchJob, keyed
// by pod name. With masterOnly only the master replica is read.
func (c *Client) Logs(ctx context.Context, name, namespace, container string, masterOnly bool) (map[string]string, error) {
	selector := LabelJobName + "=" + name
	if masterOnly {
		selector += "," + LabelReplicaType + "=" + strings.ToLower(string(ReplicaMaster))
	}

	pods, err := c.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, apperrors.FromKubernetes("failed to list pytorchjob pods", err)
	}
	if len(pods.Items) == 0 {
		return nil, apperrors.NewWithContext(apperrors.ErrCodeNotFound, "no pods found for pytorchjob",
			map[string]any{"name": name, "namespace": namespace, "selector": selector})
	}

	var mu sync.Mutex
	logs := make(map[string]string, len(pods.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLogs)
	for _, pod := range pods.Items {
		podName := pod.Name
		g.Go(func() error {
			out, err := c.podLogs(gctx, podName, namespace, container)
			if err != nil {
				return err
			}
			mu.Lock()
			logs[podName] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("fetched pytorchjob logs", "name", name, "pods", len(logs))
	return logs, nil
}

func (c *Client) podLogs(ctx context.Context, pod, namespace, container string) (string, error) {
	req := c.kube.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{Container: container})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", apperrors.WrapWithContext(apperrors.ErrCodeUnavailable, "failed to stream logs", err,
			map[string]any{"pod": pod})
	}
	defer stream.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, stream); err != nil {
		return "", fmt.Errorf("failed to read logs of pod %s: %w", pod, err)
	}
	return buf.String(), nil
}
