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

package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the settings shared by the hdrlog commands. Command line flags
// override these values when they are set explicitly.
type Config struct {
	Range   RangeConfig   `mapstructure:"range"`
	Union   UnionConfig   `mapstructure:"union"`
	Output  OutputConfig  `mapstructure:"output"`
	Summary SummaryConfig `mapstructure:"summary"`
	S3      S3Config      `mapstructure:"s3"`
}

// RangeConfig bounds the records read from each log, in seconds.
type RangeConfig struct {
	Start    float64 `mapstructure:"start"`
	End      float64 `mapstructure:"end"`
	Absolute bool    `mapstructure:"absolute"`
}

type UnionConfig struct {
	TargetWindowMs int64 `mapstructure:"target_window_ms"`
	Relative       bool  `mapstructure:"relative"`
}

type OutputConfig struct {
	MaxValueUnitRatio float64 `mapstructure:"max_value_unit_ratio"`
}

type SummaryConfig struct {
	Type           string  `mapstructure:"type"`
	TicksPerHalf   int     `mapstructure:"ticks_per_half"`
	BucketSize     int64   `mapstructure:"bucket_size"`
	ValueUnitRatio float64 `mapstructure:"value_unit_ratio"`
}

type S3Config struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// DefaultConfig returns the built in defaults.
func DefaultConfig() *Config {
	return &Config{
		Range: RangeConfig{
			Start: 0,
			End:   math.MaxFloat64,
		},
		Output: OutputConfig{
			MaxValueUnitRatio: 1_000_000,
		},
		Summary: SummaryConfig{
			Type:           "percentiles",
			TicksPerHalf:   5,
			BucketSize:     100,
			ValueUnitRatio: 1,
		},
	}
}

// Load reads configuration from an optional hdrlog.yaml in the working
// directory and from environment variables. Environment variables use the
// prefix "HDRLOG" and the dot character in keys is replaced by an underscore.
// For example, "union.target_window_ms" becomes "HDRLOG_UNION_TARGET_WINDOW_MS".
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches for
// hdrlog.yaml in the working directory and tolerates its absence.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hdrlog")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("HDRLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
