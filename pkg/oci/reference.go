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

package oci

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// URIScheme is the URI scheme for registry targets (e.g., "oci://ghcr.io/org/repo:tag").
const URIScheme = "oci://"

// DefaultTag is applied when a target carries no tag.
const DefaultTag = "latest"

// Reference is a parsed registry target.
type Reference struct {
	// Registry is the registry host (e.g., "ghcr.io", "localhost:5000").
	Registry string
	// Repository is the repository path (e.g., "traindb/pipelines").
	Repository string
	// Tag is the artifact tag.
	Tag string
}

// IsTarget reports whether target uses the oci:// scheme.
func IsTarget(target string) bool {
	return strings.HasPrefix(target, URIScheme)
}

// ParseTarget parses an oci://registry/repository[:tag] URI.
func ParseTarget(target string) (*Reference, error) {
	if !IsTarget(target) {
		return nil, apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest,
			"push target must use the oci:// scheme", map[string]any{"target": target})
	}

	ref, err := reference.ParseNormalizedNamed(strings.TrimPrefix(target, URIScheme))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "invalid OCI reference", err)
	}
	if _, ok := ref.(reference.Digested); ok {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "push target must not carry a digest")
	}

	tag := DefaultTag
	if tagged, ok := ref.(reference.Tagged); ok {
		tag = tagged.Tag()
	}

	return &Reference{
		Registry:   reference.Domain(ref),
		Repository: reference.Path(ref),
		Tag:        tag,
	}, nil
}

// String returns the reference as an oci:// URI.
func (r *Reference) String() string {
	return URIScheme + r.ImageReference()
}

// ImageReference returns the reference without the oci:// scheme.
func (r *Reference) ImageReference() string {
	return fmt.Sprintf("%s/%s:%s", r.Registry, r.Repository, r.Tag)
}

// WithTag returns a copy of the reference with the given tag.
func (r *Reference) WithTag(tag string) *Reference {
	return &Reference{
		Registry:   r.Registry,
		Repository: r.Repository,
		Tag:        tag,
	}
}

// Validate checks that the reference can be pushed.
func (r *Reference) Validate() error {
	if r == nil {
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "reference is required")
	}
	if r.Registry == "" || r.Repository == "" || r.Tag == "" {
		return apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest,
			"registry, repository and tag are required", map[string]any{
				"registry":   r.Registry,
				"repository": r.Repository,
				"tag":        r.Tag,
			})
	}
	if _, err := reference.ParseNormalizedNamed(r.ImageReference()); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "invalid OCI reference", err)
	}
	return nil
}
