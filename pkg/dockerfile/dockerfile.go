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

package dockerfile

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/distribution/reference"
	"github.com/moby/patternmatcher"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// DefaultFreezeCommand captures the installed Python packages.
var DefaultFreezeCommand = []string{"pip", "freeze"}

// Spec describes the container file to render.
type Spec struct {
	// BaseImage is the FROM image.
	BaseImage string
	// Source is the script file name copied into the image and executed.
	Source string
}

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// FindSource returns the file name of the script to containerize in dir.
// Only regular files with extension ext that are not excluded by matcher
// are considered.
func FindSource(dir, ext string, matcher *patternmatcher.PatternMatcher) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", apperrors.WrapWithContext(apperrors.ErrCodeNotFound, "failed to read build directory", err,
			map[string]any{"dir": dir})
	}

	var candidates []string
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != ext {
			continue
		}
		ignored, err := Ignored(matcher, e.Name(), false)
		if err != nil {
			return "", err
		}
		if ignored {
			slog.Debug("skipping ignored source", "file", e.Name())
			continue
		}
		candidates = append(candidates, e.Name())
	}

	if len(candidates) == 0 {
		return "", apperrors.NewWithContext(apperrors.ErrCodeNotFound, "no source file found",
			map[string]any{"dir": dir, "extension": ext})
	}

	for _, preferred := range []string{"main" + ext, "app" + ext} {
		for _, c := range candidates {
			if c == preferred {
				return c, nil
			}
		}
	}

	sort.Strings(candidates)
	return candidates[len(candidates)-1], nil
}

// Render returns the container file for spec.
func Render(spec Spec) ([]byte, error) {
	if spec.BaseImage == "" {
		spec.BaseImage = defaults.BaseImage
	}
	if _, err := reference.ParseNormalizedNamed(spec.BaseImage); err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeInvalidRequest, "invalid base image", err,
			map[string]any{"image": spec.BaseImage})
	}
	if spec.Source == "" || strings.ContainsAny(spec.Source, " \t\n/\"") {
		return nil, apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "invalid source file name",
			map[string]any{"source": spec.Source})
	}

	requirements := path.Join(defaults.AppDir, defaults.RequirementsName)
	target := path.Join(defaults.AppDir, spec.Source)

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n\n", spec.BaseImage)
	fmt.Fprintf(&b, "COPY %s %s\n\n", defaults.RequirementsName, defaults.AppDir)
	fmt.Fprintf(&b, "COPY %s %s\n\n", spec.Source, defaults.AppDir)
	fmt.Fprintf(&b, "RUN pip install --no-cache-dir -r %s\n\n", requirements)
	fmt.Fprintf(&b, "CMD [\"python\", %q]\n", target)
	return []byte(b.String()), nil
}

// FreezeRequirements runs command and returns its output. An empty command
// runs DefaultFreezeCommand.
func FreezeRequirements(ctx context.Context, runner Runner, command []string) ([]byte, error) {
	if len(command) == 0 {
		command = DefaultFreezeCommand
	}
	if runner == nil {
		runner = ExecRunner{}
	}

	ctx, cancel := context.WithTimeout(ctx, defaults.FreezeTimeout)
	defer cancel()

	out, err := runner.Run(ctx, command[0], command[1:]...)
	if err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeInternal, "failed to freeze requirements", err,
			map[string]any{"command": strings.Join(command, " ")})
	}
	return out, nil
}

// Options configures Generate.
type Options struct {
	// Dir is the build directory. Defaults to the working directory.
	Dir string
	// BaseImage is the FROM image. Defaults to defaults.BaseImage.
	BaseImage string
	// Source overrides source discovery.
	Source string
	// Extension of source files. Defaults to defaults.SourceExtension.
	Extension string
	// FreezeCommand captures requirements. Defaults to DefaultFreezeCommand.
	FreezeCommand []string
	// SkipFreeze keeps an existing requirements file, creating an empty one
	// when absent.
	SkipFreeze bool
	// Runner executes FreezeCommand.
	Runner Runner
}

// Result describes the generated files.
type Result struct {
	Dockerfile   string `json:"dockerfile" yaml:"dockerfile"`
	Requirements string `json:"requirements" yaml:"requirements"`
	Source       string `json:"source" yaml:"source"`
	BaseImage    string `json:"baseImage" yaml:"baseImage"`
}

// Generate writes the container file and requirements into opts.Dir.
func Generate(ctx context.Context, opts Options) (*Result, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Extension == "" {
		opts.Extension = defaults.SourceExtension
	}
	if opts.BaseImage == "" {
		opts.BaseImage = defaults.BaseImage
	}

	source := opts.Source
	if source == "" {
		matcher, err := ReadIgnorePatterns(opts.Dir, nil)
		if err != nil {
			return nil, err
		}
		if source, err = FindSource(opts.Dir, opts.Extension, matcher); err != nil {
			return nil, err
		}
	}

	content, err := Render(Spec{BaseImage: opts.BaseImage, Source: source})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Dockerfile:   filepath.Join(opts.Dir, defaults.DockerfileName),
		Requirements: filepath.Join(opts.Dir, defaults.RequirementsName),
		Source:       source,
		BaseImage:    opts.BaseImage,
	}

	if err := writeFile(res.Dockerfile, content); err != nil {
		return nil, err
	}

	if opts.SkipFreeze {
		if _, statErr := os.Stat(res.Requirements); statErr == nil {
			slog.Info("keeping existing requirements", "path", res.Requirements)
			return res, nil
		}
		return res, writeFile(res.Requirements, nil)
	}

	reqs, err := FreezeRequirements(ctx, opts.Runner, opts.FreezeCommand)
	if err != nil {
		return nil, err
	}
	if err := writeFile(res.Requirements, reqs); err != nil {
		return nil, err
	}

	slog.Info("generated container file",
		"dockerfile", res.Dockerfile,
		"source", res.Source,
		"base", res.BaseImage)
	return res, nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.WrapWithContext(apperrors.ErrCodeInternal, "failed to write file", err,
			map[string]any{"path": path})
	}
	return nil
}
