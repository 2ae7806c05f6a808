// Package catalog loads seed targets, audit definitions, and schedule rules
// from a YAML file at startup. Seeding is idempotent: entries whose id
// already exists in the store are left untouched, so the same file can ship
// with every deployment.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/warden/internal/check"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/store"
)

// File is the top-level seed document.
type File struct {
	Targets     []TargetSeed     `yaml:"targets"`
	Definitions []DefinitionSeed `yaml:"definitions"`
	Rules       []RuleSeed       `yaml:"rules"`
}

// TargetSeed declares one target.
type TargetSeed struct {
	ID            string   `yaml:"id"`
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	CredentialRef string   `yaml:"credential_ref"`
	Tags          []string `yaml:"tags"`
}

// DefinitionSeed declares one audit definition.
type DefinitionSeed struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Checks []string `yaml:"checks"`
}

// RuleSeed declares one schedule rule.
type RuleSeed struct {
	ID           string   `yaml:"id"`
	DefinitionID string   `yaml:"definition"`
	Targets      []string `yaml:"targets"`
	Tags         []string `yaml:"tags"`
	IntervalS    int      `yaml:"interval_s"`
	Disabled     bool     `yaml:"disabled"`
}

// Parse decodes and validates a seed document.
func Parse(data []byte, reg *check.Registry) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	for i, t := range f.Targets {
		if t.ID == "" || t.Host == "" {
			return nil, fmt.Errorf("target %d: id and host are required", i)
		}
	}
	for i, d := range f.Definitions {
		if d.ID == "" || d.Name == "" {
			return nil, fmt.Errorf("definition %d: id and name are required", i)
		}
		if len(d.Checks) == 0 {
			return nil, fmt.Errorf("definition %s: at least one check is required", d.ID)
		}
		for _, id := range d.Checks {
			if _, err := reg.Resolve(id); err != nil {
				return nil, fmt.Errorf("definition %s: %w", d.ID, err)
			}
		}
	}
	for i, r := range f.Rules {
		if r.ID == "" || r.DefinitionID == "" {
			return nil, fmt.Errorf("rule %d: id and definition are required", i)
		}
		if r.IntervalS <= 0 {
			return nil, fmt.Errorf("rule %s: interval_s must be positive", r.ID)
		}
		if len(r.Targets) == 0 && len(r.Tags) == 0 {
			return nil, fmt.Errorf("rule %s: targets or tags required", r.ID)
		}
	}
	return &f, nil
}

// Seed loads the catalog at path and inserts every entry the store does not
// already have. Targets seed before definitions, definitions before rules,
// so intra-file references resolve in one pass.
func Seed(ctx context.Context, path string, s store.Store, reg *check.Registry, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	f, err := Parse(data, reg)
	if err != nil {
		return err
	}

	var created, skipped int
	for _, seed := range f.Targets {
		exists, err := targetExists(ctx, s, seed.ID)
		if err != nil {
			return err
		}
		if exists {
			skipped++
			continue
		}
		err = s.CreateTarget(ctx, &model.Target{
			ID:            seed.ID,
			Host:          seed.Host,
			Port:          seed.Port,
			CredentialRef: seed.CredentialRef,
			Tags:          seed.Tags,
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("seed target %s: %w", seed.ID, err)
		}
		created++
	}

	for _, seed := range f.Definitions {
		_, err := s.GetDefinition(ctx, seed.ID)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		err = s.CreateDefinition(ctx, &model.AuditDefinition{
			ID:        seed.ID,
			Version:   1,
			Name:      seed.Name,
			Checks:    seed.Checks,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("seed definition %s: %w", seed.ID, err)
		}
		created++
	}

	for _, seed := range f.Rules {
		_, err := s.GetRule(ctx, seed.ID)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		err = s.CreateRule(ctx, &model.ScheduleRule{
			ID:           seed.ID,
			DefinitionID: seed.DefinitionID,
			TargetIDs:    seed.Targets,
			TagSelector:  seed.Tags,
			IntervalS:    seed.IntervalS,
			Enabled:      !seed.Disabled,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("seed rule %s: %w", seed.ID, err)
		}
		created++
	}

	logger.Info("catalog seeded", "path", path, "created", created, "skipped", skipped)
	return nil
}

func targetExists(ctx context.Context, s store.Store, id string) (bool, error) {
	_, err := s.GetTarget(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}
