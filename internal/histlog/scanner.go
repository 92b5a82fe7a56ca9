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

// Package histlog reads and writes histogram logs: line oriented text files
// holding one compressed interval histogram per line, optionally tagged, with
// comment lines that carry the log's start and base times.
//
// The Scanner tokenizes a log into events, the OrderedReader resolves the time
// base and applies range and tag filters before any payload is decoded, and
// the OrderedIterator exposes a peekable stream of interval values suitable
// for merging. Writer produces the same format.
package histlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/cardinalhq/hdrlog/internal/constants"
	"github.com/cardinalhq/hdrlog/internal/histogram"
)

const (
	startTimePrefix = "#[StartTime:"
	baseTimePrefix  = "#[BaseTime:"
	tagPrefix       = "Tag="
)

// legendPrefixes mark the optional column legend line.
var legendPrefixes = []string{`"StartTimestamp"`, `"Timestamp"`}

// Signal tells the Scanner whether to keep going after an event.
type Signal int

const (
	Continue Signal = iota
	Stop
)

// EventHandler receives the constructs found in a histogram log, in file order.
type EventHandler interface {
	// OnComment receives any comment line that is not a reserved time comment.
	OnComment(text string) Signal
	// OnBaseTime receives the value of a "#[BaseTime: ..." comment.
	OnBaseTime(secondsSinceEpoch float64) Signal
	// OnStartTime receives the value of a "#[StartTime: ..." comment.
	OnStartTime(secondsSinceEpoch float64) Signal
	// OnHistogram receives an interval line. The payload is decoded only if
	// the handler asks for it, and at most once.
	OnHistogram(tag string, timestampSec, lengthSec float64, payload *LazyPayload) Signal
	// OnError receives parse failures. The offending line has been skipped.
	OnError(err error) Signal
}

// Decoder turns a payload token into an interval value.
type Decoder func(payload string) (histogram.IntervalValue, error)

// LazyPayload is the not yet decoded histogram of one interval line.
type LazyPayload struct {
	token  string
	line   int
	decode Decoder
	read   bool
}

// Decode decodes the payload. A second call returns ErrPayloadConsumed.
func (p *LazyPayload) Decode() (histogram.IntervalValue, error) {
	if p.read {
		return nil, ErrPayloadConsumed
	}
	p.read = true
	v, err := p.decode(p.token)
	if err != nil {
		return nil, &DecodeError{Line: p.line, Err: err}
	}
	return v, nil
}

// Line returns the log line number the payload was read from.
func (p *LazyPayload) Line() int { return p.line }

// Scanner tokenizes a histogram log line by line.
type Scanner struct {
	r          *bufio.Reader
	decoder    Decoder
	lineNo     int
	pending    string
	tooLong    bool
	hasPending bool
	done       bool
	err        error
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithDecoder replaces the payload decoder. The default decodes HdrHistogram
// V2 compressed payloads.
func WithDecoder(d Decoder) ScannerOption {
	return func(s *Scanner) {
		if d != nil {
			s.decoder = d
		}
	}
}

// NewScanner returns a Scanner reading from r. The caller keeps ownership of r.
func NewScanner(r io.Reader, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		r:       bufio.NewReaderSize(r, readBufferSize),
		decoder: histogram.DecodeString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const readBufferSize = 64 * 1024

// HasNextLine reports whether another line is available. It may read ahead
// one line from the underlying stream. It returns false both at the end of
// the input and on a read error; Err tells them apart.
func (s *Scanner) HasNextLine() bool {
	if s.hasPending {
		return true
	}
	if s.done {
		return false
	}
	line, tooLong, err := s.readLine()
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return false
	}
	s.pending = line
	s.tooLong = tooLong
	s.hasPending = true
	return true
}

// readLine returns the next line without its terminator. Lines longer than
// constants.MaxLineSizeBytes are consumed to their end but not kept.
func (s *Scanner) readLine() (string, bool, error) {
	var (
		buf     []byte
		read    int
		tooLong bool
	)
	for {
		chunk, err := s.r.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			buf = append(buf, chunk...)
			if len(buf) > constants.MaxLineSizeBytes+len("\r\n") {
				tooLong = true
				buf = nil
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil, errors.Is(err, io.EOF) && read > 0:
			if tooLong {
				return "", true, nil
			}
			line := strings.TrimRight(string(buf), "\r\n")
			if len(line) > constants.MaxLineSizeBytes {
				return "", true, nil
			}
			return line, false, nil
		default:
			return "", false, err
		}
	}
}

// Err returns the read error that ended the scan, if any. The end of the
// input is not an error.
func (s *Scanner) Err() error {
	return s.err
}

// LineNumber returns the number of lines consumed so far.
func (s *Scanner) LineNumber() int {
	return s.lineNo
}

func (s *Scanner) nextLine() (string, bool, bool) {
	if !s.HasNextLine() {
		return "", false, false
	}
	s.hasPending = false
	s.lineNo++
	return s.pending, s.tooLong, true
}

// Process delivers events to h until h returns Stop or the input is
// exhausted. Calling it again resumes after the last consumed line. Malformed
// lines are reported through OnError and never abort the scan; the returned
// error is only ever an I/O error from the underlying reader.
func (s *Scanner) Process(h EventHandler) error {
	for {
		line, tooLong, ok := s.nextLine()
		if !ok {
			if s.err != nil {
				return fmt.Errorf("reading line %d: %w", s.lineNo+1, s.err)
			}
			return nil
		}
		linesCounter.Add(context.Background(), 1)
		if tooLong {
			if s.fail(h, fmt.Errorf("%w (limit %d bytes)", ErrLineTooLong, constants.MaxLineSizeBytes)) == Stop {
				return nil
			}
			continue
		}
		if s.dispatch(h, line) == Stop {
			return nil
		}
	}
}

func (s *Scanner) dispatch(h EventHandler, line string) Signal {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return Continue
	}

	if strings.HasPrefix(line, "#") {
		switch {
		case strings.HasPrefix(line, startTimePrefix):
			sec, err := parseTimeComment(line[len(startTimePrefix):])
			if err != nil {
				return s.fail(h, fmt.Errorf("start time comment: %w", err))
			}
			return h.OnStartTime(sec)
		case strings.HasPrefix(line, baseTimePrefix):
			sec, err := parseTimeComment(line[len(baseTimePrefix):])
			if err != nil {
				return s.fail(h, fmt.Errorf("base time comment: %w", err))
			}
			return h.OnBaseTime(sec)
		default:
			return h.OnComment(line)
		}
	}

	for _, p := range legendPrefixes {
		if strings.HasPrefix(line, p) {
			return Continue
		}
	}

	fields := splitFields(line)
	if len(fields) == 0 {
		return s.fail(h, errors.New("no interval fields"))
	}
	var tag string
	if strings.HasPrefix(fields[0], tagPrefix) {
		tag = fields[0][len(tagPrefix):]
		fields = fields[1:]
	}
	if len(fields) != 4 {
		return s.fail(h, fmt.Errorf("expected 4 interval fields, found %d", len(fields)))
	}

	timestamp, err := parseSeconds(fields[0])
	if err != nil {
		return s.fail(h, fmt.Errorf("interval start: %w", err))
	}
	length, err := parseSeconds(fields[1])
	if err != nil {
		return s.fail(h, fmt.Errorf("interval length: %w", err))
	}
	// The max column is redundant with the payload; it only has to parse.
	if _, err := strconv.ParseFloat(fields[2], 64); err != nil {
		return s.fail(h, fmt.Errorf("interval max: %w", err))
	}

	payload := &LazyPayload{
		token:  fields[3],
		line:   s.lineNo,
		decode: s.decoder,
	}
	return h.OnHistogram(tag, timestamp, length, payload)
}

func (s *Scanner) fail(h EventHandler, err error) Signal {
	parseErrorsCounter.Add(context.Background(), 1)
	return h.OnError(&ParseError{Line: s.lineNo, Err: err})
}

// splitFields splits on runs of spaces, commas and tabs.
func splitFields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\r'
	})
}

func parseSeconds(field string) (float64, error) {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("value is not finite")
	}
	return v, nil
}

// parseTimeComment reads the seconds value that follows a reserved comment
// prefix, e.g. " 1441812123.250 (seconds since epoch), Wed Sep 09 ...]".
func parseTimeComment(rest string) (float64, error) {
	fields := splitFields(rest)
	if len(fields) == 0 {
		return 0, errors.New("missing seconds value")
	}
	return parseSeconds(strings.TrimSuffix(fields[0], "]"))
}
