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

// Package storage prepares the persistent volume and claim that hold
// learned models for a TrainDB namespace.
//
// Manifests are rendered from the templates in the configuration directory
// (template-pv.yaml and template-pvc.yaml). When a template is missing the
// embedded default is used instead. Rendered files are written next to the
// templates as <namespace>-pv.yaml and <namespace>-pvc.yaml and then applied
// to the cluster in that order.
//
// Usage:
//
//	si := storage.NewInitializer(storage.DefaultConfig(), clients.Kube,
//	    manifest.NewApplier(clients.Dynamic, clients.Mapper))
//	if _, err := si.Init(ctx, "learned-model"); err != nil {
//	    return err
//	}
package storage
