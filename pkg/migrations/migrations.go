// Package migrations implements the versioned per-snapshot migration
// engine (spec §4.11): sequential per-version transformations over the
// documents currently held in a State, run on open when the state's
// data_version trails the schema's.
//
// Grounded on original_source/baza/src/baza2/baza_manager/mod.rs's
// data_version field and cuemby-warren's cmd/warren-migrate/main.go
// dry-run/backup-then-transform shape, adapted from a one-shot CLI tool
// into an in-process engine that runs on every open.
package migrations

import (
	"fmt"
	"sort"

	"github.com/mbme/arhiv-sub000/pkg/arhiverr"
	"github.com/mbme/arhiv-sub000/pkg/arhivlog"
	"github.com/mbme/arhiv-sub000/pkg/document"
	"github.com/mbme/arhiv-sub000/pkg/state"
)

// MigrateFunc transforms one document snapshot. It returns the (possibly
// unchanged) result and whether anything actually changed; unchanged
// snapshots cost nothing (spec §4.11).
type MigrateFunc func(doc *document.Document) (*document.Document, bool)

// Step is one version's migration: applying it brings documents from
// Version-1 to Version.
type Step struct {
	Version uint8
	Migrate MigrateFunc
}

// Engine holds the ordered sequence of migrations a schema has ever
// shipped, plus the oldest data_version it still knows how to migrate
// from.
type Engine struct {
	steps        []Step
	minSupported uint8
}

// NewEngine builds an Engine from steps in any order, sorting them by
// Version. minSupported is the oldest data_version Run will accept.
func NewEngine(minSupported uint8, steps ...Step) *Engine {
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Engine{steps: sorted, minSupported: minSupported}
}

// Run migrates s from its current data_version up to targetVersion
// (normally the schema's DataVersion()), one step at a time, bumping
// s's data_version after each step regardless of whether that step
// touched any document. Fails if s's current data_version predates the
// engine's minimum supported version.
func (e *Engine) Run(s *state.State, targetVersion uint8) error {
	current := s.DataVersion()

	if current < e.minSupported {
		return arhiverr.VersionMismatch(
			"state data_version %d is older than the minimum supported migration %d",
			current, e.minSupported)
	}

	if current >= targetVersion {
		return nil
	}

	for _, step := range e.steps {
		if step.Version <= current || step.Version > targetVersion {
			continue
		}

		changed := s.ApplyMigration(step.Migrate)
		arhivlog.Info(fmt.Sprintf("migration to data_version %d touched %d document(s)", step.Version, changed))
		s.SetDataVersion(step.Version)
		current = step.Version
	}

	if current < targetVersion {
		return arhiverr.InvariantViolation("no migration path from data_version %d to %d", s.DataVersion(), targetVersion)
	}

	return nil
}
