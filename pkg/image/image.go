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

// Package image builds a model container image without a Docker daemon.
//
// The build context is packed into a single layer under /app and appended
// to the base image. The resulting image is pushed to a registry or written
// to a local tarball.
package image

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/google/go-containerregistry/pkg/compression"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	"github.com/traindb-project/traindb-ml/pkg/dockerfile"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// DefaultIgnorePatterns are always excluded from the build context.
var DefaultIgnorePatterns = []string{".git", "__pycache__", "*.pyc"}

// Options configures Build.
type Options struct {
	// ContextDir is the directory packed into the image.
	ContextDir string
	// BaseImage is the image the context layer is appended to.
	BaseImage string
	// Target is the reference of the built image.
	Target string
	// Platform selects the base image variant as "os/arch". Empty uses the
	// registry default.
	Platform string
	// Cmd overrides the image command. Defaults to running the discovered
	// source file with python.
	Cmd []string
	// Tarball writes the image to this path instead of pushing it.
	Tarball string
}

// Result describes a built image.
type Result struct {
	Reference string   `json:"reference" yaml:"reference"`
	Digest    string   `json:"digest" yaml:"digest"`
	Cmd       []string `json:"cmd" yaml:"cmd"`
	Tarball   string   `json:"tarball,omitempty" yaml:"tarball,omitempty"`
}

// Build builds the image described by opts.
func Build(ctx context.Context, opts Options) (*Result, error) {
	if opts.ContextDir == "" {
		opts.ContextDir = "."
	}
	if opts.BaseImage == "" {
		opts.BaseImage = defaults.BaseImage
	}
	if opts.Target == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "target image reference is required")
	}

	targetRef, err := name.ParseReference(opts.Target)
	if err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeInvalidRequest, "invalid target image", err,
			map[string]any{"image": opts.Target})
	}
	baseRef, err := name.ParseReference(opts.BaseImage)
	if err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeInvalidRequest, "invalid base image", err,
			map[string]any{"image": opts.BaseImage})
	}

	matcher, err := dockerfile.ReadIgnorePatterns(opts.ContextDir, DefaultIgnorePatterns)
	if err != nil {
		return nil, err
	}

	cmd := opts.Cmd
	if len(cmd) == 0 {
		source, findErr := dockerfile.FindSource(opts.ContextDir, defaults.SourceExtension, matcher)
		if findErr != nil {
			return nil, findErr
		}
		cmd = []string{"python", path.Join(defaults.AppDir, source)}
	}

	craneOpts := []crane.Option{crane.WithContext(ctx)}
	if opts.Platform != "" {
		platform, platErr := parsePlatform(opts.Platform)
		if platErr != nil {
			return nil, platErr
		}
		craneOpts = append(craneOpts, crane.WithPlatform(&platform))
	}

	slog.Info("building image",
		"base", baseRef.String(),
		"context", opts.ContextDir,
		"target", targetRef.String())

	tmpPath, err := createFilteredTar(opts.ContextDir, strings.TrimPrefix(defaults.AppDir, "/"), matcher)
	if err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}
	defer os.Remove(tmpPath)

	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return os.Open(tmpPath)
	}, tarball.WithCompression(compression.GZip))
	if err != nil {
		return nil, fmt.Errorf("failed to create layer from build context: %w", err)
	}

	base, err := crane.Pull(baseRef.String(), craneOpts...)
	if err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeUnavailable, "failed to pull base image", err,
			map[string]any{"image": baseRef.String()})
	}

	img, err := mutate.AppendLayers(base, layer)
	if err != nil {
		return nil, fmt.Errorf("failed to append layer: %w", err)
	}

	img, err = withCommand(img, cmd)
	if err != nil {
		return nil, err
	}

	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("failed to compute image digest: %w", err)
	}

	res := &Result{Reference: targetRef.String(), Digest: digest.String(), Cmd: cmd}

	if opts.Tarball != "" {
		if err := tarball.WriteToFile(opts.Tarball, targetRef, img); err != nil {
			return nil, apperrors.WrapWithContext(apperrors.ErrCodeInternal, "failed to write image tarball", err,
				map[string]any{"path": opts.Tarball})
		}
		res.Tarball = opts.Tarball
		slog.Info("image written", "path", opts.Tarball, "digest", res.Digest)
		return res, nil
	}

	if err := crane.Push(img, targetRef.String(), craneOpts...); err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeUnavailable, "failed to push image", err,
			map[string]any{"image": targetRef.String()})
	}
	slog.Info("image pushed", "image", res.Reference, "digest", res.Digest)
	return res, nil
}

// withCommand sets the working directory and command on img.
func withCommand(img v1.Image, cmd []string) (v1.Image, error) {
	cf, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to read image config: %w", err)
	}
	cfg := cf.Config.DeepCopy()
	cfg.WorkingDir = strings.TrimSuffix(defaults.AppDir, "/")
	cfg.Cmd = cmd
	cfg.Entrypoint = nil

	out, err := mutate.Config(img, *cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set image config: %w", err)
	}
	return out, nil
}

// parsePlatform converts "os/arch" into a v1.Platform.
func parsePlatform(s string) (v1.Platform, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return v1.Platform{}, apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest,
			"invalid platform, expected os/arch", map[string]any{"platform": s})
	}
	return v1.Platform{OS: parts[0], Architecture: parts[1]}, nil
}
