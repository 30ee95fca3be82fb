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

package storage

import (
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

//go:embed templates/*.yaml
var embeddedTemplates embed.FS

// OpenTemplate parses the YAML template at path. If the file does not exist
// and its base name is one of the known templates, the embedded default is
// returned instead.
func OpenTemplate(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		data, err = embeddedTemplates.ReadFile("templates/" + filepath.Base(path))
		if err != nil {
			return nil, apperrors.WrapWithContext(apperrors.ErrCodeNotFound, "template not found", err,
				map[string]any{"path": path})
		}
		slog.Warn("template not found, using embedded default", "path", path)
	} else if err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeInternal, "failed to read template", err,
			map[string]any{"path": path})
	}

	tmpl := map[string]any{}
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeInvalidRequest, "failed to parse template", err,
			map[string]any{"path": path})
	}
	return tmpl, nil
}

// PatchPV names the volume after name and points its host path at hostPath.
// The existing labels are replaced by the system and name labels.
func PatchPV(tmpl map[string]any, name, system, hostPath string) map[string]any {
	volume := name + defaults.VolumePostfix

	meta := child(tmpl, "metadata")
	meta["name"] = volume
	meta["labels"] = map[string]any{
		defaults.LabelSystem: system,
		defaults.LabelName:   volume,
	}

	child(child(tmpl, "spec"), "hostPath")["path"] = hostPath
	return tmpl
}

// PatchPVC names the claim after name, places it in namespace name and
// merges the volume selector labels into spec.selector.matchLabels.
func PatchPVC(tmpl map[string]any, name, system string) map[string]any {
	meta := child(tmpl, "metadata")
	meta["name"] = name + defaults.ClaimPostfix
	meta["namespace"] = name

	match := child(child(child(tmpl, "spec"), "selector"), "matchLabels")
	match[defaults.LabelSystem] = system
	match[defaults.LabelName] = name + defaults.VolumePostfix
	return tmpl
}

// PVFilename returns the rendered volume manifest path for namespace.
func PVFilename(confPath, namespace string) string {
	return filepath.Join(confPath, namespace+defaults.PVPostfix)
}

// PVCFilename returns the rendered claim manifest path for namespace.
func PVCFilename(confPath, namespace string) string {
	return filepath.Join(confPath, namespace+defaults.PVCPostfix)
}

func marshalYAML(path string, doc map[string]any) ([]byte, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodeInternal, "failed to marshal manifest", err,
			map[string]any{"path": path})
	}
	return data, nil
}

func writeManifest(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.WrapWithContext(apperrors.ErrCodeInternal, "failed to create directory", err,
			map[string]any{"path": filepath.Dir(path)})
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.WrapWithContext(apperrors.ErrCodeInternal, "failed to write manifest", err,
			map[string]any{"path": path})
	}
	return nil
}

// child returns m[key] as a map, creating it when absent or of another type.
func child(m map[string]any, key string) map[string]any {
	if c, ok := m[key].(map[string]any); ok {
		return c
	}
	c := map[string]any{}
	m[key] = c
	return c
}
