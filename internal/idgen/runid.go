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

// Package idgen issues the run identifiers attached to log records and
// written output, so the output of one invocation can be traced back to it.
package idgen

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sony/sonyflake"
)

var runIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generator issues roughly time ordered ids.
type Generator struct {
	sf *sonyflake.Sonyflake
}

func NewGenerator() (*Generator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		// no private IP lookup
		MachineID: func() (uint16, error) { return uint16(rand.UintN(1 << 16)), nil },
	})
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &Generator{sf: sf}, nil
}

// NextID returns a positive int64 that increases roughly in time order.
func (g *Generator) NextID() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

// NextRunID returns NextID as a short lower case base32 string.
func (g *Generator) NextRunID() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(g.NextID()))
	return strings.ToLower(runIDEncoding.EncodeToString(b[:]))
}

// NewRunID returns a run id from a fresh generator, falling back to a random
// id if the generator cannot be built.
func NewRunID() string {
	g, err := NewGenerator()
	if err != nil {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], rand.Uint64())
		return strings.ToLower(runIDEncoding.EncodeToString(b[:]))
	}
	return g.NextRunID()
}
