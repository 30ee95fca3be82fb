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
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/distribution/reference"
	"k8s.io/apimachinery/pkg/util/validation"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

// ParameterType is the type of a pipeline parameter.
type ParameterType string

const (
	TypeString ParameterType = "string"
	TypeInt    ParameterType = "int"
	TypeFloat  ParameterType = "float"
)

// Pipeline is a DAG of container steps.
type Pipeline struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  []Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Volumes     []Volume    `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	Steps       []Step      `yaml:"steps" json:"steps"`
}

// Parameter is a pipeline input with a default value.
type Parameter struct {
	Name    string        `yaml:"name" json:"name"`
	Type    ParameterType `yaml:"type,omitempty" json:"type,omitempty"`
	Default string        `yaml:"default,omitempty" json:"default,omitempty"`
}

// Volume is a persistent volume claim mounted into every step.
type Volume struct {
	Name      string `yaml:"name" json:"name"`
	ClaimName string `yaml:"claimName" json:"claimName"`
	MountPath string `yaml:"mountPath" json:"mountPath"`
}

// Step is one container in the pipeline.
type Step struct {
	Name      string   `yaml:"name" json:"name"`
	Image     string   `yaml:"image" json:"image"`
	Command   []string `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string `yaml:"args,omitempty" json:"args,omitempty"`
	Inputs    []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs   []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	DependsOn []string `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
}

var paramRef = regexp.MustCompile(`\{\{\s*inputs\.parameters\.([A-Za-z0-9_-]+)\s*\}\}`)

// References returns the parameter names referenced by the step command and
// args, in order of first use.
func (s Step) References() []string {
	seen := map[string]bool{}
	var refs []string
	for _, a := range append(append([]string{}, s.Command...), s.Args...) {
		for _, m := range paramRef.FindAllStringSubmatch(a, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				refs = append(refs, m[1])
			}
		}
	}
	return refs
}

// Validate checks names, images, parameter references and the dependency
// graph.
func (p *Pipeline) Validate() error {
	if errs := validation.IsDNS1123Label(p.Name); len(errs) > 0 {
		return invalid("invalid pipeline name %q: %s", p.Name, strings.Join(errs, "; "))
	}

	params := map[string]Parameter{}
	for _, prm := range p.Parameters {
		if prm.Name == "" {
			return invalid("parameter name is required")
		}
		if _, dup := params[prm.Name]; dup {
			return invalid("duplicate parameter %q", prm.Name)
		}
		if err := prm.validate(); err != nil {
			return err
		}
		params[prm.Name] = prm
	}

	volumes := map[string]bool{}
	for _, v := range p.Volumes {
		if errs := validation.IsDNS1123Label(v.Name); len(errs) > 0 {
			return invalid("invalid volume name %q: %s", v.Name, strings.Join(errs, "; "))
		}
		if volumes[v.Name] {
			return invalid("duplicate volume %q", v.Name)
		}
		if v.ClaimName == "" {
			return invalid("volume %q has no claim", v.Name)
		}
		if !path.IsAbs(v.MountPath) {
			return invalid("volume %q mount path must be absolute", v.Name)
		}
		volumes[v.Name] = true
	}

	if len(p.Steps) == 0 {
		return invalid("pipeline %q has no steps", p.Name)
	}

	steps := map[string]bool{}
	for _, s := range p.Steps {
		if errs := validation.IsDNS1123Label(s.Name); len(errs) > 0 {
			return invalid("invalid step name %q: %s", s.Name, strings.Join(errs, "; "))
		}
		if s.Name == p.Name {
			return invalid("step %q has the pipeline name", s.Name)
		}
		if steps[s.Name] {
			return invalid("duplicate step %q", s.Name)
		}
		steps[s.Name] = true
	}

	for _, s := range p.Steps {
		if s.Image == "" {
			return invalid("step %q has no image", s.Name)
		}
		if _, err := reference.ParseNormalizedNamed(s.Image); err != nil {
			return invalid("step %q has invalid image %q: %v", s.Name, s.Image, err)
		}

		inputs := map[string]bool{}
		for _, in := range s.Inputs {
			if _, ok := params[in]; !ok {
				return invalid("step %q uses unknown parameter %q", s.Name, in)
			}
			inputs[in] = true
		}
		for _, ref := range s.References() {
			if !inputs[ref] {
				return invalid("step %q references parameter %q not listed in inputs", s.Name, ref)
			}
		}

		for _, dep := range s.DependsOn {
			if dep == s.Name {
				return invalid("step %q depends on itself", s.Name)
			}
			if !steps[dep] {
				return invalid("step %q depends on unknown step %q", s.Name, dep)
			}
		}
	}

	_, err := p.TopologicalOrder()
	return err
}

// TopologicalOrder returns the steps so that every step follows its
// dependencies. Independent steps keep their declaration order.
func (p *Pipeline) TopologicalOrder() ([]Step, error) {
	index := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		index[s.Name] = i
	}

	indegree := make([]int, len(p.Steps))
	dependents := make([][]int, len(p.Steps))
	for i, s := range p.Steps {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, invalid("step %q depends on unknown step %q", s.Name, dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	order := make([]Step, 0, len(p.Steps))
	done := make([]bool, len(p.Steps))
	for len(order) < len(p.Steps) {
		next := -1
		for i := range p.Steps {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var cyclic []string
			for i, s := range p.Steps {
				if !done[i] {
					cyclic = append(cyclic, s.Name)
				}
			}
			return nil, apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "dependency cycle",
				map[string]any{"steps": strings.Join(cyclic, ",")})
		}
		done[next] = true
		order = append(order, p.Steps[next])
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return order, nil
}

// Parameter returns the named parameter.
func (p *Pipeline) Parameter(name string) (Parameter, bool) {
	for _, prm := range p.Parameters {
		if prm.Name == name {
			return prm, true
		}
	}
	return Parameter{}, false
}

// SetParameter overrides the default of the named parameter.
func (p *Pipeline) SetParameter(name, value string) error {
	for i := range p.Parameters {
		if p.Parameters[i].Name != name {
			continue
		}
		prm := p.Parameters[i]
		prm.Default = value
		if err := prm.validate(); err != nil {
			return err
		}
		p.Parameters[i] = prm
		return nil
	}
	return apperrors.NewWithContext(apperrors.ErrCodeInvalidRequest, "unknown parameter",
		map[string]any{"name": name})
}

func (prm Parameter) validate() error {
	switch prm.Type {
	case "", TypeString:
	case TypeInt:
		if prm.Default != "" {
			if _, err := strconv.ParseInt(prm.Default, 10, 64); err != nil {
				return invalid("parameter %q default %q is not an int", prm.Name, prm.Default)
			}
		}
	case TypeFloat:
		if prm.Default != "" {
			if _, err := strconv.ParseFloat(prm.Default, 64); err != nil {
				return invalid("parameter %q default %q is not a float", prm.Name, prm.Default)
			}
		}
	default:
		return invalid("parameter %q has unknown type %q", prm.Name, prm.Type)
	}
	return nil
}

// kfpType maps the parameter type to the Kubeflow Pipelines type name.
func (prm Parameter) kfpType() string {
	switch prm.Type {
	case TypeInt:
		return "Integer"
	case TypeFloat:
		return "Float"
	default:
		return "String"
	}
}

func invalid(format string, args ...any) error {
	return apperrors.New(apperrors.ErrCodeInvalidRequest, fmt.Sprintf(format, args...))
}
