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

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Interface is an alias for kubernetes.Interface to allow easier mocking in tests.
// This enables using fake.NewSimpleClientset() which returns kubernetes.Interface.
type Interface = kubernetes.Interface

// Clients bundles the typed and dynamic clients built from one rest.Config.
// Custom resources (InferenceService, PyTorchJob) go through Dynamic;
// Mapper resolves manifest kinds to resources for generic apply.
type Clients struct {
	Kube    Interface
	Dynamic dynamic.Interface
	Mapper  meta.RESTMapper
	Config  *rest.Config
}

var (
	clientsMu sync.Mutex
	cached    = map[string]*Clients{}
)

// Get returns clients for kubeconfig, building them on first use and reusing
// them afterwards. An empty kubeconfig uses automatic discovery.
func Get(kubeconfig string) (*Clients, error) {
	clientsMu.Lock()
	defer clientsMu.Unlock()

	if c, ok := cached[kubeconfig]; ok {
		return c, nil
	}

	c, err := Build(kubeconfig)
	if err != nil {
		return nil, err
	}
	cached[kubeconfig] = c
	return c, nil
}

// Build creates typed, dynamic and mapping clients for the given kubeconfig,
// bypassing the cache used by Get.
func Build(kubeconfig string) (*Clients, error) {
	config, err := RestConfig(kubeconfig)
	if err != nil {
		return nil, err
	}

	kube, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(kube.Discovery()))

	return &Clients{
		Kube:    kube,
		Dynamic: dyn,
		Mapper:  mapper,
		Config:  config,
	}, nil
}

// RestConfig resolves the rest.Config for kubeconfig.
//
// Resolution order when kubeconfig is empty:
//  1. KUBECONFIG environment variable
//  2. ~/.kube/config (if it exists)
//  3. In-cluster configuration (service account)
func RestConfig(kubeconfig string) (*rest.Config, error) {
	kubeconfig = resolveKubeconfig(kubeconfig)

	// Use InClusterConfig directly when no kubeconfig is available
	// This avoids the warning: "Neither --kubeconfig nor --master was specified"
	if kubeconfig == "" {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
		return config, nil
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build kube config from %s: %w", kubeconfig, err)
	}
	return config, nil
}

func resolveKubeconfig(kubeconfig string) string {
	if kubeconfig != "" {
		return kubeconfig
	}
	if env := os.Getenv("KUBECONFIG"); env != "" {
		return env
	}
	home := filepath.Join(homedir.HomeDir(), ".kube", "config")
	if _, err := os.Stat(home); err == nil {
		return home
	}
	return ""
}
