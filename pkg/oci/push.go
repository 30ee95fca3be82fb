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
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	ociv1 "github.com/opencontainers/image-spec/specs-go/v1"
	oras "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/file"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

const (
	// ArtifactType is the artifact type of pushed pipeline archives.
	ArtifactType = "application/vnd.traindb.pipeline.v1+tar.gz"

	// LayerMediaType is the media type of the archive layer.
	LayerMediaType = ociv1.MediaTypeImageLayerGzip
)

// PushOptions configures a single-file push.
type PushOptions struct {
	// File is the path of the archive to push.
	File string
	// Reference is the destination.
	Reference *Reference
	// PlainHTTP uses HTTP instead of HTTPS for the registry connection.
	PlainHTTP bool
	// InsecureTLS skips TLS certificate verification.
	InsecureTLS bool
	// Annotations are added to the manifest.
	Annotations map[string]string
}

// PushResult contains the result of a successful push.
type PushResult struct {
	// Digest is the digest of the pushed manifest.
	Digest string `json:"digest" yaml:"digest"`
	// Reference is the full reference (registry/repository:tag).
	Reference string `json:"reference" yaml:"reference"`
}

// PushFile pushes one file to a registry as an OCI artifact.
func PushFile(ctx context.Context, opts PushOptions) (*PushResult, error) {
	if err := opts.Reference.Validate(); err != nil {
		return nil, err
	}

	repo, err := remote.NewRepository(stripProtocol(opts.Reference.Registry) + "/" + opts.Reference.Repository)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "failed to initialize remote repository", err)
	}
	repo.PlainHTTP = opts.PlainHTTP
	repo.Client = createAuthClient(opts.PlainHTTP, opts.InsecureTLS)

	return pushFile(ctx, opts, repo)
}

// pushFile packs opts.File into a file store and copies it to dst.
func pushFile(ctx context.Context, opts PushOptions, dst oras.Target) (*PushResult, error) {
	if opts.File == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "file is required")
	}
	if err := opts.Reference.Validate(); err != nil {
		return nil, err
	}

	absFile, err := filepath.Abs(opts.File)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to resolve file path", err)
	}
	info, err := os.Stat(absFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewWithContext(apperrors.ErrCodeNotFound,
				"file to push does not exist", map[string]any{"file": opts.File})
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to stat file", err)
	}
	if info.IsDir() {
		return nil, apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest,
			"push expects a file, not a directory", map[string]any{"file": opts.File})
	}

	fs, err := file.New(filepath.Dir(absFile))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to create file store", err)
	}
	defer func() { _ = fs.Close() }()

	layerDesc, err := fs.Add(ctx, filepath.Base(absFile), LayerMediaType, absFile)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to add file to store", err)
	}

	packOpts := oras.PackManifestOptions{
		Layers:              []ociv1.Descriptor{layerDesc},
		ManifestAnnotations: opts.Annotations,
	}
	manifestDesc, err := oras.PackManifest(ctx, fs, oras.PackManifestVersion1_1, ArtifactType, packOpts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to pack manifest", err)
	}

	tag := opts.Reference.Tag
	if err := fs.Tag(ctx, manifestDesc, tag); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to tag manifest in local store", err)
	}

	slog.Info("pushing artifact",
		"reference", opts.Reference.ImageReference(),
		"file", filepath.Base(absFile),
		"size", info.Size(),
	)

	desc, err := oras.Copy(ctx, fs, tag, dst, tag, oras.DefaultCopyOptions)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUnavailable, "failed to push artifact to registry", err)
	}

	return &PushResult{
		Digest:    desc.Digest.String(),
		Reference: opts.Reference.ImageReference(),
	}, nil
}

// stripProtocol removes an http:// or https:// prefix from a registry host.
func stripProtocol(registry string) string {
	registry = strings.TrimPrefix(registry, "https://")
	registry = strings.TrimPrefix(registry, "http://")
	return registry
}

// createAuthClient creates a registry client with optional TLS relaxation
// and Docker credential support.
func createAuthClient(plainHTTP, insecureTLS bool) *auth.Client {
	credStore, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
	if err != nil {
		slog.Debug("docker credentials unavailable", "error", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !plainHTTP && insecureTLS {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec
		}
	}

	client := &auth.Client{
		Client: &http.Client{Transport: transport},
		Cache:  auth.NewCache(),
	}
	if credStore != nil {
		client.Credential = credentials.Credential(credStore)
	}
	return client
}
