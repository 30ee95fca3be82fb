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
	"context"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/kubernetes"

	"github.com/traindb-project/traindb-ml/pkg/defaults"
	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
	"github.com/traindb-project/traindb-ml/pkg/k8s/manifest"
)

// Config holds the platform layout used to render storage manifests.
type Config struct {
	// ConfPath is the directory holding templates and rendered manifests.
	ConfPath string
	// HostPath is the node directory backing the volume.
	HostPath string
	// SystemName is the value of the system label.
	SystemName string
	// EnsureNamespace creates the claim namespace before applying.
	EnsureNamespace bool
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		ConfPath:        defaults.ConfPath,
		HostPath:        defaults.HostPath,
		SystemName:      defaults.SystemName,
		EnsureNamespace: true,
	}
}

// Files are the rendered manifest paths for one namespace.
type Files struct {
	PV  string `json:"pv" yaml:"pv"`
	PVC string `json:"pvc" yaml:"pvc"`
}

// Manifest is one rendered document and the path it is written to.
type Manifest struct {
	Path string
	Data []byte
}

// Manifests are the rendered volume and claim for one namespace.
type Manifests struct {
	PV  Manifest
	PVC Manifest
}

// Initializer renders and applies the model storage for a namespace.
type Initializer struct {
	config  Config
	kube    kubernetes.Interface
	applier *manifest.Applier
}

// NewInitializer returns an Initializer. Empty config fields take the
// platform defaults.
func NewInitializer(config Config, kube kubernetes.Interface, applier *manifest.Applier) *Initializer {
	d := DefaultConfig()
	if config.ConfPath == "" {
		config.ConfPath = d.ConfPath
	}
	if config.HostPath == "" {
		config.HostPath = d.HostPath
	}
	if config.SystemName == "" {
		config.SystemName = d.SystemName
	}
	return &Initializer{config: config, kube: kube, applier: applier}
}

func (i *Initializer) renderPV(namespace string) (Manifest, error) {
	tmpl, err := OpenTemplate(filepath.Join(i.config.ConfPath, defaults.PVTemplate))
	if err != nil {
		return Manifest{}, err
	}
	path := PVFilename(i.config.ConfPath, namespace)
	data, err := marshalYAML(path, PatchPV(tmpl, namespace, i.config.SystemName, i.config.HostPath))
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{Path: path, Data: data}, nil
}

func (i *Initializer) renderPVC(namespace string) (Manifest, error) {
	tmpl, err := OpenTemplate(filepath.Join(i.config.ConfPath, defaults.PVCTemplate))
	if err != nil {
		return Manifest{}, err
	}
	path := PVCFilename(i.config.ConfPath, namespace)
	data, err := marshalYAML(path, PatchPVC(tmpl, namespace, i.config.SystemName))
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{Path: path, Data: data}, nil
}

// RenderManifests patches both templates for namespace and returns the
// documents without writing them.
func (i *Initializer) RenderManifests(namespace string) (*Manifests, error) {
	if namespace == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "namespace is not defined")
	}
	pv, err := i.renderPV(namespace)
	if err != nil {
		return nil, err
	}
	pvc, err := i.renderPVC(namespace)
	if err != nil {
		return nil, err
	}
	return &Manifests{PV: pv, PVC: pvc}, nil
}

// CreatePVYAMLFromTemplate renders the volume manifest for namespace and
// returns the written path.
func (i *Initializer) CreatePVYAMLFromTemplate(namespace string) (string, error) {
	m, err := i.renderPV(namespace)
	if err != nil {
		return "", err
	}
	if err := writeManifest(m.Path, m.Data); err != nil {
		return "", err
	}
	slog.Debug("rendered persistent volume", "path", m.Path)
	return m.Path, nil
}

// CreatePVCYAMLFromTemplate renders the claim manifest for namespace and
// returns the written path.
func (i *Initializer) CreatePVCYAMLFromTemplate(namespace string) (string, error) {
	m, err := i.renderPVC(namespace)
	if err != nil {
		return "", err
	}
	if err := writeManifest(m.Path, m.Data); err != nil {
		return "", err
	}
	slog.Debug("rendered persistent volume claim", "path", m.Path)
	return m.Path, nil
}

// Render writes both manifests for namespace.
func (i *Initializer) Render(ctx context.Context, namespace string) (*Files, error) {
	if namespace == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest, "namespace is not defined")
	}

	var files Files
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := i.CreatePVYAMLFromTemplate(namespace)
		files.PV = p
		return err
	})
	g.Go(func() error {
		p, err := i.CreatePVCYAMLFromTemplate(namespace)
		files.PVC = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &files, nil
}

// DeployYAML creates every object in file. An object that already exists is
// reported as CONFLICT.
func (i *Initializer) DeployYAML(ctx context.Context, file string) ([]*unstructured.Unstructured, error) {
	objs, err := i.applier.ApplyFile(ctx, file, "")
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeAlreadyExists) {
			return objs, apperrors.WrapWithContext(apperrors.ErrCodeConflict, "resource already exists", err,
				map[string]any{"file": file})
		}
		return objs, err
	}
	return objs, nil
}

// Init renders the manifests for namespace and applies the volume and then
// the claim.
func (i *Initializer) Init(ctx context.Context, namespace string) (*Files, error) {
	files, err := i.Render(ctx, namespace)
	if err != nil {
		return nil, err
	}

	if i.config.EnsureNamespace {
		if err := i.CreateNamespace(ctx, namespace); err != nil {
			return files, err
		}
	}

	if _, err := i.DeployYAML(ctx, files.PV); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
			return files, apperrors.Wrap(apperrors.ErrCodeConflict,
				"the requested persistent volume already existed", err)
		}
		return files, err
	}
	slog.Info("persistent volume is created", "namespace", namespace)

	if _, err := i.DeployYAML(ctx, files.PVC); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
			return files, apperrors.Wrap(apperrors.ErrCodeConflict,
				"the requested persistent volume claim already existed", err)
		}
		return files, err
	}
	slog.Info("persistent volume claim is created", "namespace", namespace)

	return files, nil
}
