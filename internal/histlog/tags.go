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

package histlog

import (
	"errors"
	"fmt"
	"regexp"

	mapset "github.com/deckarep/golang-set/v2"
)

// DefaultTagName names the untagged stream in tag selections and output.
const DefaultTagName = "default"

// DisplayTag returns the user facing name of a record tag.
func DisplayTag(tag string) string {
	if tag == "" {
		return DefaultTagName
	}
	return tag
}

// TagFilter selects records by tag. Tags are matched by display name, so
// "default" selects the untagged stream.
type TagFilter struct {
	include  mapset.Set[string]
	exclude  mapset.Set[string]
	patterns []*regexp.Regexp
}

// NewTagFilter builds a filter. When include is not empty only those tags
// pass. Tags in exclude, or matching any of excludePatterns, never pass.
func NewTagFilter(include, exclude, excludePatterns []string) (*TagFilter, error) {
	f := &TagFilter{
		include: mapset.NewSet[string](),
		exclude: mapset.NewSet[string](),
	}
	for _, t := range include {
		if t == "" {
			return nil, &ConfigError{Field: "include tag", Err: errors.New("tag must not be empty")}
		}
		f.include.Add(t)
	}
	for _, t := range exclude {
		if t == "" {
			return nil, &ConfigError{Field: "exclude tag", Err: errors.New("tag must not be empty")}
		}
		f.exclude.Add(t)
	}
	for _, p := range excludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, &ConfigError{Field: "exclude tag pattern", Err: fmt.Errorf("%q: %w", p, err)}
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Excludes reports whether records with tag should be skipped.
func (f *TagFilter) Excludes(tag string) bool {
	if f == nil {
		return false
	}
	name := DisplayTag(tag)
	if f.exclude.Contains(name) {
		return true
	}
	for _, re := range f.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return f.include.Cardinality() > 0 && !f.include.Contains(name)
}

// Predicate returns the filter as a TagPredicate, or nil when it selects
// everything.
func (f *TagFilter) Predicate() TagPredicate {
	if f == nil || (f.include.Cardinality() == 0 && f.exclude.Cardinality() == 0 && len(f.patterns) == 0) {
		return nil
	}
	return f.Excludes
}
