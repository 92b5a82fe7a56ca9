// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package logsource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/hdrlog/internal/histlog"
)

// Input is one log to read, with the tag prefix applied to its records.
type Input struct {
	URI string
	Tag string
}

// Selection describes the inputs named on the command line.
type Selection struct {
	// Dir is searched for file names matching Patterns. Defaults to ".".
	Dir      string
	Patterns []string
	// Files are used as given.
	Files []string
	// Tagged entries have the form "<tag>=<file>".
	Tagged []string
}

// Resolve expands a selection into a sorted, duplicate free list of inputs.
func Resolve(sel Selection) ([]Input, error) {
	dir := sel.Dir
	if dir == "" {
		dir = "."
	}

	uris := mapset.NewSet[string]()
	tags := map[string]string{}

	if len(sel.Patterns) > 0 {
		fi, err := os.Stat(dir)
		if err != nil {
			return nil, &histlog.ConfigError{Field: "input path", Err: err}
		}
		if !fi.IsDir() {
			return nil, &histlog.ConfigError{Field: "input path", Err: fmt.Errorf("%s is not a directory", dir)}
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, p := range sel.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, &histlog.ConfigError{Field: "input file pattern", Err: fmt.Errorf("%q: %w", p, err)}
			}
			for _, e := range entries {
				if e.IsDir() || !re.MatchString(e.Name()) {
					continue
				}
				uris.Add(filepath.Join(dir, e.Name()))
			}
		}
	}

	for _, f := range sel.Files {
		if err := checkExists(f); err != nil {
			return nil, err
		}
		uris.Add(f)
	}

	for _, entry := range sel.Tagged {
		tag, file, ok := strings.Cut(entry, "=")
		if !ok || tag == "" || file == "" || strings.Contains(file, "=") {
			return nil, &histlog.ConfigError{
				Field: "tagged input",
				Err:   fmt.Errorf("%q should be <tag>=<file>; neither may contain '='", entry),
			}
		}
		if err := checkExists(file); err != nil {
			return nil, err
		}
		uris.Add(file)
		tags[file] = tag
	}

	sorted := uris.ToSlice()
	sort.Strings(sorted)
	inputs := make([]Input, 0, len(sorted))
	for _, uri := range sorted {
		inputs = append(inputs, Input{URI: uri, Tag: tags[uri]})
	}
	return inputs, nil
}

// checkExists verifies local paths. Remote and stdin inputs are checked when
// they are opened.
func checkExists(uri string) error {
	if uri == StdinURI || strings.HasPrefix(uri, "s3://") {
		return nil
	}
	if _, err := os.Stat(uri); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &histlog.ConfigError{Field: "input", Err: err}
		}
		return fmt.Errorf("checking %s: %w", uri, err)
	}
	return nil
}
