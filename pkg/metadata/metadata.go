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

// Package metadata generates identifiers that tie platform resources to a run.
package metadata

import (
	"github.com/google/uuid"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
)

// NewRunID returns a random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// IsRunID reports whether id parses as a run identifier.
func IsRunID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Labels returns the run label set, merged over base. base is not modified.
func Labels(base map[string]string, runID string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	if runID != "" {
		out[defaults.LabelRunID] = runID
	}
	return out
}
