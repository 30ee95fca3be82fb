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
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/traindb-project/traindb-ml/pkg/errors"
)

type fakeRunner struct {
	out  []byte
	err  error
	name string
	args []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.name = name
	f.args = args
	return f.out, f.err
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("# "+n+"\n"), 0o644))
	}
}

func TestFindSource(t *testing.T) {
	tests := []struct {
		name   string
		files  []string
		ignore string
		want   string
		code   apperrors.ErrorCode
	}{
		{name: "main preferred", files: []string{"a.py", "main.py", "z.py"}, want: "main.py"},
		{name: "app preferred", files: []string{"app.py", "z.py"}, want: "app.py"},
		{name: "last in order", files: []string{"a.py", "c.py", "b.py"}, want: "c.py"},
		{name: "other extensions skipped", files: []string{"train.py", "zz.txt"}, want: "train.py"},
		{name: "ignored", files: []string{"main.py", "train.py"}, ignore: "main.py\n", want: "train.py"},
		{name: "none", files: []string{"README.md"}, code: apperrors.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			touch(t, dir, tt.files...)
			if tt.ignore != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, IgnoreFileName), []byte(tt.ignore), 0o644))
			}

			matcher, err := ReadIgnorePatterns(dir, nil)
			require.NoError(t, err)

			got, err := FindSource(dir, ".py", matcher)
			if tt.code != "" {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, tt.code))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindSource_SkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "zz.py"), 0o755))
	touch(t, dir, "train.py")

	got, err := FindSource(dir, ".py", nil)
	require.NoError(t, err)
	assert.Equal(t, "train.py", got)
}

func TestIgnored_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IgnoreFileName), []byte("data/\n"), 0o644))

	matcher, err := ReadIgnorePatterns(dir, []string{"*.pyc"})
	require.NoError(t, err)

	ignored, err := Ignored(matcher, "data", true)
	require.NoError(t, err)
	assert.True(t, ignored)

	ignored, err = Ignored(matcher, "cache.pyc", false)
	require.NoError(t, err)
	assert.True(t, ignored)

	ignored, err = Ignored(matcher, "train.py", false)
	require.NoError(t, err)
	assert.False(t, ignored)
}

func TestRender(t *testing.T) {
	got, err := Render(Spec{BaseImage: "python:3.8-slim", Source: "train.py"})
	require.NoError(t, err)

	want := "FROM python:3.8-slim\n\n" +
		"COPY requirements.txt /app/\n\n" +
		"COPY train.py /app/\n\n" +
		"RUN pip install --no-cache-dir -r /app/requirements.txt\n\n" +
		"CMD [\"python\", \"/app/train.py\"]\n"
	assert.Equal(t, want, string(got))
}

func TestRender_Invalid(t *testing.T) {
	_, err := Render(Spec{BaseImage: "Not A Valid:Image", Source: "train.py"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))

	_, err = Render(Spec{Source: "my script.py"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
}

func TestFreezeRequirements(t *testing.T) {
	r := &fakeRunner{out: []byte("torch==1.7.1\n")}

	out, err := FreezeRequirements(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Equal(t, "torch==1.7.1\n", string(out))
	assert.Equal(t, "pip", r.name)
	assert.Equal(t, []string{"freeze"}, r.args)

	r = &fakeRunner{err: errors.New("pip: not found")}
	_, err = FreezeRequirements(context.Background(), r, []string{"pip3", "freeze"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInternal))
	assert.Equal(t, "pip3", r.name)
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "train.py")

	res, err := Generate(context.Background(), Options{
		Dir:    dir,
		Runner: &fakeRunner{out: []byte("numpy==1.24.0\n")},
	})
	require.NoError(t, err)
	assert.Equal(t, "train.py", res.Source)
	assert.Equal(t, "python:3.8-slim", res.BaseImage)

	content, err := os.ReadFile(res.Dockerfile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "CMD [\"python\", \"/app/train.py\"]")

	reqs, err := os.ReadFile(res.Requirements)
	require.NoError(t, err)
	assert.Equal(t, "numpy==1.24.0\n", string(reqs))
}

func TestGenerate_SkipFreeze(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "serve.py")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("flask\n"), 0o644))

	res, err := Generate(context.Background(), Options{Dir: dir, SkipFreeze: true})
	require.NoError(t, err)

	reqs, err := os.ReadFile(res.Requirements)
	require.NoError(t, err)
	assert.Equal(t, "flask\n", string(reqs))
}

func TestGenerate_NoSource(t *testing.T) {
	_, err := Generate(context.Background(), Options{Dir: t.TempDir(), SkipFreeze: true})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}
