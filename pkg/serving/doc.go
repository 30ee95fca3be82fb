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

// Package serving registers trained models as KServe InferenceServices and
// sends prediction requests to them.
//
// InferenceServices are handled as unstructured objects through the dynamic
// client, so the package does not depend on the KServe API module.
//
// Registration creates the service, watches it for a short period and then
// polls until the Ready condition is True:
//
//	reg := serving.NewRegistrar(clients.Dynamic, serving.DefaultConfig())
//	status, err := reg.Register(ctx, serving.ModelServer{
//	    ModelType: "pytorch",
//	    ModelName: "mnist",
//	}, "learned-model", "pvc://learned-model-claim/mnist")
//
// Predictions use the KServe v1 protocol:
//
//	p := serving.NewPredictor(status.URL, "mnist", serving.WithBatchSize(32))
//	out, err := p.Predict(ctx, [][]float64{{1, 2, 3}})
package serving
