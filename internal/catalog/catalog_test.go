package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/warden/internal/check"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/store"
)

const seedDoc = `
targets:
  - id: web-1
    host: 10.0.1.10
    port: 443
    tags: [prod, web]
  - id: db-1
    host: 10.0.2.20
    port: 5432
    credential_ref: vault:db-audit
    tags: [prod, db]

definitions:
  - id: baseline
    name: Baseline exposure audit
    checks: [stub.one, stub.two]

rules:
  - id: nightly-prod
    definition: baseline
    tags: [prod]
    interval_s: 86400
  - id: weekly-db
    definition: baseline
    targets: [db-1]
    interval_s: 604800
    disabled: true
`

type stubCheck struct{ id string }

func (c stubCheck) ID() string                  { return c.id }
func (c stubCheck) Timeout() time.Duration      { return 0 }
func (c stubCheck) Execute(_ context.Context, _ *model.Target) (string, string, error) {
	return model.OutcomePass, "", nil
}

func testRegistry() *check.Registry {
	reg := check.NewRegistry()
	reg.Register(stubCheck{id: "stub.one"})
	reg.Register(stubCheck{id: "stub.two"})
	return reg
}

func writeSeedFile(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestParseValidDocument(t *testing.T) {
	f, err := Parse([]byte(seedDoc), testRegistry())
	require.NoError(t, err)
	assert.Len(t, f.Targets, 2)
	assert.Len(t, f.Definitions, 1)
	assert.Len(t, f.Rules, 2)
	assert.True(t, f.Rules[1].Disabled)
}

func TestParseRejectsUnknownCheck(t *testing.T) {
	doc := `
definitions:
  - id: broken
    name: Broken
    checks: [no.such.check]
`
	_, err := Parse([]byte(doc), testRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no.such.check")
}

func TestParseRejectsRuleWithoutSelector(t *testing.T) {
	doc := `
rules:
  - id: floating
    definition: baseline
    interval_s: 60
`
	_, err := Parse([]byte(doc), testRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targets or tags")
}

func TestSeedIsIdempotent(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := writeSeedFile(t, seedDoc)

	ctx := context.Background()
	require.NoError(t, Seed(ctx, path, s, testRegistry(), logger))

	targets, err := s.ListTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 2)

	def, err := s.GetDefinition(ctx, "baseline")
	require.NoError(t, err)
	assert.Equal(t, []string{"stub.one", "stub.two"}, def.Checks)

	rule, err := s.GetRule(ctx, "weekly-db")
	require.NoError(t, err)
	assert.False(t, rule.Enabled)

	// Second run changes nothing, even after a local mutation.
	require.NoError(t, s.UpdateTargetTags(ctx, "web-1", []string{"prod", "web", "edge"}))
	require.NoError(t, Seed(ctx, path, s, testRegistry(), logger))

	tgt, err := s.GetTarget(ctx, "web-1")
	require.NoError(t, err)
	assert.Contains(t, tgt.Tags, "edge")

	targets, err = s.ListTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 2)
}
