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

// Package oci pushes compiled pipeline archives to OCI registries.
//
// A pipeline archive (the tar.gz produced by the pipeline compiler) is stored
// as a single layer of an OCI 1.1 artifact manifest, so any OCI-compliant
// registry can hold compiled pipelines next to the images they run.
//
// # Targets
//
// Push targets use the oci:// URI scheme:
//
//	ref, err := oci.ParseTarget("oci://ghcr.io/traindb/pipelines/pytorch-mnist:v1")
//	if err != nil {
//	    return err
//	}
//	res, err := oci.PushFile(ctx, oci.PushOptions{
//	    File:      "pytorch-mnist.tar.gz",
//	    Reference: ref,
//	})
//
// A target without a tag is pushed as DefaultTag.
//
// # Authentication
//
// Credentials are loaded from the Docker configuration (~/.docker/config.json)
// through the ORAS credentials package. PlainHTTP selects HTTP for local
// development registries and InsecureTLS skips certificate verification.
package oci
