// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Builder layers YAML overlays on top of a base configuration. Later overlays
// win; keys an overlay leaves out keep the value of the layers below.
type Builder struct {
	overlays []overlay
	errs     error
	Config   *Config
}

// overlay is one YAML document and where it came from
type overlay struct {
	origin string
	yaml   string
}

// Use sets the base configuration, DefaultConfig when unset
func (b *Builder) Use(c *Config) *Builder {
	b.Config = c
	return b
}

// Merge adds inline YAML overlays
func (b *Builder) Merge(yamls ...string) *Builder {
	for _, y := range yamls {
		b.overlays = append(b.overlays, overlay{origin: "inline", yaml: y})
	}
	return b
}

// MergeFiles adds the content of each file as an overlay, in order
func (b *Builder) MergeFiles(paths ...string) *Builder {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			b.errs = errors.Join(b.errs, fmt.Errorf("failed to read config file: %w", err))
			continue
		}
		b.overlays = append(b.overlays, overlay{origin: path, yaml: string(data)})
	}
	return b
}

// Build merges every overlay into the base configuration and validates the
// result. Host paths are not checked; commands that need the host validate
// again once flags are applied.
func (b *Builder) Build() (*Config, error) {
	if b.Config == nil {
		b.Config = DefaultConfig()
	}

	errs := b.errs
	for _, o := range b.overlays {
		additional := &Config{}
		if err := yaml.Unmarshal([]byte(o.yaml), additional); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to parse %s config: %w", o.origin, err))
			continue
		}

		if err := mergo.Merge(b.Config, additional, mergo.WithOverride, mergo.WithTransformers(boolPtrTransformer{})); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to merge %s config: %w", o.origin, err))
			continue
		}
	}
	if errs != nil {
		return nil, errs
	}

	b.Config.sanitize()
	if err := b.Config.Validate(SkipHostValidation); err != nil {
		return nil, err
	}
	return b.Config, nil
}

// boolPtrTransformer lets an overlay set a *bool to false; mergo otherwise
// skips the explicit false since it is the zero value of the pointee.
type boolPtrTransformer struct{}

func (t boolPtrTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf((*bool)(nil)) {
		return nil
	}

	return func(dst, src reflect.Value) error {
		if src.IsNil() {
			return nil
		}
		if dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}
