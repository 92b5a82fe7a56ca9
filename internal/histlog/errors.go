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
)

var (
	// ErrPayloadConsumed is returned by LazyPayload.Decode when the payload was
	// already decoded once.
	ErrPayloadConsumed = errors.New("histogram payload already read")

	// ErrReaderClosed is returned when reading from a closed OrderedReader.
	ErrReaderClosed = errors.New("reader is closed")

	// ErrLineTooLong marks a line over constants.MaxLineSizeBytes. The line
	// is reported as a ParseError and skipped.
	ErrLineTooLong = errors.New("line too long")
)

// ParseError describes a log line that could not be parsed. The line is
// skipped and scanning continues.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeError describes a histogram payload that failed to decode.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConfigError is returned at construction time for invalid settings such as
// an inverted time range, a missing input or a bad tag expression.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
