// Package config loads run profiles.
//
// A profile is a YAML document whose keys are the long flag names of the run
// command. It is checked against an embedded CUE schema before use, so typos
// and out-of-range values are reported with their position instead of being
// silently ignored.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/treesum/internal/coordinator"
	"github.com/roach88/treesum/internal/fault"
	"github.com/roach88/treesum/internal/plan"
	"github.com/roach88/treesum/internal/spawn"
	"github.com/roach88/treesum/internal/worker"
)

//go:embed schema.cue
var schemaSource string

// DefaultAuditLog is where the audit log goes when nothing else is configured.
const DefaultAuditLog = "adder_log"

// Settings is a fully resolved run configuration.
type Settings struct {
	Input       string
	Strategy    plan.Strategy
	Concurrency int
	Budget      time.Duration
	AuditLog    string
	LockLog     string
	RegionDir   string
	Jitter      time.Duration
	Hold        time.Duration
	DB          string
	InProcess   bool
	Verbose     bool
}

// Defaults returns the settings used when neither a flag nor a profile says
// otherwise.
func Defaults() Settings {
	opts := worker.DefaultOptions()
	return Settings{
		Strategy:    plan.Pairwise,
		Concurrency: spawn.DefaultLimit,
		Budget:      coordinator.DefaultBudget,
		AuditLog:    DefaultAuditLog,
		Jitter:      opts.MaxJitter,
		Hold:        opts.Hold,
	}
}

// Coordinator converts s into a coordinator configuration.
func (s Settings) Coordinator() coordinator.Config {
	return coordinator.Config{
		InputPath:    s.Input,
		Strategy:     s.Strategy,
		Concurrency:  s.Concurrency,
		Budget:       s.Budget,
		AuditPath:    s.AuditLog,
		ActivityPath: s.LockLog,
		RegionDir:    s.RegionDir,
	}
}

// Worker converts s into worker options.
func (s Settings) Worker() worker.Options {
	return worker.Options{
		Concurrency: s.Concurrency,
		MaxJitter:   s.Jitter,
		Hold:        s.Hold,
	}
}

// Profile is a parsed run profile. Nil fields were not present in the file.
type Profile struct {
	Input       *string `json:"input,omitempty"`
	Strategy    *string `json:"strategy,omitempty"`
	Concurrency *int    `json:"concurrency,omitempty"`
	Budget      *string `json:"budget,omitempty"`
	Log         *string `json:"log,omitempty"`
	LockLog     *string `json:"lock-log,omitempty"`
	RegionDir   *string `json:"region-dir,omitempty"`
	Jitter      *string `json:"jitter,omitempty"`
	Hold        *string `json:"hold,omitempty"`
	DB          *string `json:"db,omitempty"`
	InProcess   *bool   `json:"in-process,omitempty"`
	Verbose     *bool   `json:"verbose,omitempty"`
}

// Load reads and validates the profile at path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Configuration("read profile", err)
	}
	p, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fault.Configuration(path, err)
	}
	return p, nil
}

// Parse decodes a YAML profile and validates it against the schema. An
// empty document is a valid, empty profile.
func Parse(r io.Reader) (*Profile, error) {
	var raw map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, schemaError(err)
	}

	var p Profile
	if err := v.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// schemaError keeps the first CUE error, which names the offending field.
func schemaError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	return fmt.Errorf("invalid profile: %s", errs[0].Error())
}

// Apply copies every field present in p onto s, except those for which
// explicit reports true. explicit receives the key name, which is also the
// long flag name.
func (p *Profile) Apply(s *Settings, explicit func(key string) bool) error {
	if explicit == nil {
		explicit = func(string) bool { return false }
	}

	str := func(key string, src *string, dst *string) {
		if src != nil && !explicit(key) {
			*dst = *src
		}
	}
	dur := func(key string, src *string, dst *time.Duration) error {
		if src == nil || explicit(key) {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fault.Configuration("profile "+key, err)
		}
		*dst = d
		return nil
	}
	flag := func(key string, src *bool, dst *bool) {
		if src != nil && !explicit(key) {
			*dst = *src
		}
	}

	str("input", p.Input, &s.Input)
	str("log", p.Log, &s.AuditLog)
	str("lock-log", p.LockLog, &s.LockLog)
	str("region-dir", p.RegionDir, &s.RegionDir)
	str("db", p.DB, &s.DB)
	flag("in-process", p.InProcess, &s.InProcess)
	flag("verbose", p.Verbose, &s.Verbose)

	if p.Strategy != nil && !explicit("strategy") {
		st, err := plan.ParseStrategy(*p.Strategy)
		if err != nil {
			return fault.Configuration("profile strategy", err)
		}
		s.Strategy = st
	}
	if p.Concurrency != nil && !explicit("concurrency") {
		s.Concurrency = *p.Concurrency
	}

	for _, d := range []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"budget", p.Budget, &s.Budget},
		{"jitter", p.Jitter, &s.Jitter},
		{"hold", p.Hold, &s.Hold},
	} {
		if err := dur(d.key, d.src, d.dst); err != nil {
			return err
		}
	}
	return nil
}
