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

package image

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/moby/patternmatcher"

	"github.com/traindb-project/traindb-ml/pkg/dockerfile"
)

// createFilteredTar packs sourceDir into a gzipped tar under prefix,
// skipping paths excluded by matcher. It returns the temporary file path.
func createFilteredTar(sourceDir, prefix string, matcher *patternmatcher.PatternMatcher) (tarPath string, err error) {
	tmp, err := os.CreateTemp("", "tdbml-build-context-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if closeErr := tmp.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(tmp.Name())
			tarPath = ""
		}
	}()

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	if prefix != "" {
		if err = tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeDir,
			Name:     prefix + "/",
			Mode:     0o755,
			ModTime:  time.Unix(0, 0),
		}); err != nil {
			return "", fmt.Errorf("failed to write tar header for %q: %w", prefix, err)
		}
	}

	err = filepath.Walk(sourceDir, func(p string, info fs.FileInfo, walkErr error) error {
		return addEntry(tw, sourceDir, prefix, matcher, p, info, walkErr)
	})
	if err != nil {
		return "", err
	}

	if err = tw.Close(); err != nil {
		return "", fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err = gz.Close(); err != nil {
		return "", fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return tmp.Name(), nil
}

func addEntry(tw *tar.Writer, sourceDir, prefix string, matcher *patternmatcher.PatternMatcher, p string, info fs.FileInfo, walkErr error) error {
	if walkErr != nil {
		return walkErr
	}

	rel, err := filepath.Rel(sourceDir, p)
	if err != nil {
		return fmt.Errorf("failed to get relative path for %q: %w", p, err)
	}
	if rel == "." {
		return nil
	}

	ignored, err := dockerfile.Ignored(matcher, rel, info.IsDir())
	if err != nil {
		return err
	}
	if ignored {
		slog.Debug("ignoring build context path", "path", rel)
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	if !info.IsDir() && !info.Mode().IsRegular() {
		slog.Debug("skipping non-regular file", "path", rel)
		return nil
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %q: %w", p, err)
	}
	header.Name = path.Join(prefix, filepath.ToSlash(rel))
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %q: %w", p, err)
	}
	if info.IsDir() {
		return nil
	}

	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", p, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to write %q: %w", p, err)
	}
	return nil
}
