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

// Package client builds Kubernetes clients from a kubeconfig.
//
// Get returns typed, dynamic, and REST mapping clients that share one
// rest.Config and are cached per kubeconfig path:
//
//	c, err := client.Get(kubeconfig)
//	if err != nil {
//	    return err
//	}
//	ns, err := c.Kube.CoreV1().Namespaces().Get(ctx, "learned-model", metav1.GetOptions{})
//
// Authentication is discovered in this order: explicit path, KUBECONFIG,
// ~/.kube/config, in-cluster service account.
package client
