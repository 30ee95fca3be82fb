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

package pipeline

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// ArchiveEntry is the workflow file name inside a pipeline archive.
const ArchiveEntry = "pipeline.yaml"

// WriteArchive writes wf as a gzipped tar holding ArchiveEntry.
func WriteArchive(w io.Writer, wf *Workflow) error {
	data, err := wf.Marshal()
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     ArchiveEntry,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  time.Now().UTC().Truncate(time.Second),
	}); err != nil {
		return fmt.Errorf("failed to write archive header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write archive entry: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return nil
}

// WriteArchiveFile writes the archive for wf to path.
func WriteArchiveFile(path string, wf *Workflow) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInternal, "failed to create output directory", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return apperrors.WrapWithContext(apperrors.ErrCodeInternal, "failed to create archive", err,
			map[string]any{"path": path})
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return WriteArchive(f, wf)
}

// ReadArchive returns the workflow stored in a pipeline archive.
func ReadArchive(r io.Reader) (*Workflow, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "archive is not gzip compressed", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, apperrors.NewWithContext(apperrors.ErrCodeNotFound, "archive has no workflow",
				map[string]any{"entry": ArchiveEntry})
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "failed to read archive", err)
		}
		if h.Name != ArchiveEntry {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "failed to read archive entry", err)
		}
		return ParseWorkflow(data)
	}
}
