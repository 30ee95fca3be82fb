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
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// IgnoreFileName is the build context ignore file.
const IgnoreFileName = ".dockerignore"

// ReadIgnorePatterns builds a matcher from defaultPatterns and the
// .dockerignore file in dir, if present.
func ReadIgnorePatterns(dir string, defaultPatterns []string) (*patternmatcher.PatternMatcher, error) {
	patterns := make([]string, len(defaultPatterns))
	copy(patterns, defaultPatterns)

	path := filepath.Join(dir, IgnoreFileName)
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		filePatterns, readErr := ignorefile.ReadAll(f)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, readErr)
		}
		patterns = append(patterns, filePatterns...)
		slog.Debug("loaded ignore patterns", "path", path, "count", len(filePatterns))
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}
	return matcher, nil
}

// Ignored reports whether relPath is excluded by matcher. Directory paths
// are matched with a trailing slash so directory-only patterns apply.
// A nil matcher ignores nothing.
func Ignored(matcher *patternmatcher.PatternMatcher, relPath string, isDir bool) (bool, error) {
	if matcher == nil {
		return false, nil
	}
	p := filepath.ToSlash(relPath)
	if isDir && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	ignored, err := matcher.MatchesOrParentMatches(p)
	if err != nil {
		return false, fmt.Errorf("failed to check ignore patterns for %q: %w", relPath, err)
	}
	return ignored, nil
}
