package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/compound-enrichment-service/internal/cache"
	"github.com/helixir/compound-enrichment-service/internal/domain"
)

// writeConfig creates a config file pointing the cache at a fresh SQLite
// database and returns both paths.
func writeConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "cache.db")
	configPath = filepath.Join(dir, "config.yaml")
	body := "auth:\n  enabled: false\ncache:\n  backend: sqlite\nsqlite:\n  path: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o600))
	return configPath, dbPath
}

func seed(t *testing.T, dbPath string, molecules ...string) {
	t.Helper()
	store, err := cache.OpenSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	c := cache.New(store, cache.Config{})
	for _, m := range molecules {
		records := []domain.AssayRecord{
			domain.NewAssayRecord(domain.CompoundRecord{ID: 1, Name: m}, 10, "assay", "Screening", domain.CategoryScreening, ""),
		}
		c.Put(context.Background(), m, domain.BioassayAny, "", domain.DefaultMaxResults, records, domain.CompoundMetadata{CompoundID: 1})
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatsAndClear(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	seed(t, dbPath, "aspirin", "caffeine")

	out, err := execute(t, "--config", configPath, "stats")
	require.NoError(t, err)
	var stats domain.CacheStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(2), stats.Entries)
	assert.Equal(t, int64(2), stats.TotalResults)

	out, err = execute(t, "--config", configPath, "clear", "--molecule", " Aspirin ")
	require.NoError(t, err)
	var cleared clearResult
	require.NoError(t, json.Unmarshal([]byte(out), &cleared))
	assert.Equal(t, int64(1), cleared.Deleted)
	assert.Equal(t, "Aspirin", cleared.Molecule)

	out, err = execute(t, "--config", configPath, "clear")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &cleared))
	assert.Equal(t, int64(1), cleared.Deleted)
}

func TestStats_YAMLOutput(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	seed(t, dbPath, "aspirin")

	out, err := execute(t, "--config", configPath, "-o", "yaml", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "cache_entries: 1")
	assert.Contains(t, out, "avg_results_per_entry: 1")
}

func TestInvalidInvocations(t *testing.T) {
	configPath, _ := writeConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad format", []string{"--config", configPath, "-o", "xml", "stats"}, "unsupported output format"},
		{"search without molecule", []string{"--config", configPath, "search"}, "accepts 1 arg"},
		{"blank molecule", []string{"--config", configPath, "search", "  "}, "molecule must not be blank"},
		{"zero max results", []string{"--config", configPath, "search", "aspirin", "--max-results", "0"}, "--max-results must be at least 1"},
		{"mechanism without args", []string{"--config", configPath, "mechanism"}, "requires at least 1 arg"},
		{"missing config", []string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "stats"}, "load config"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestWriteOutput(t *testing.T) {
	cid := int64(2244)
	result := &domain.MechanismResult{Query: "aspirin", Success: true, CompoundID: &cid, References: nil}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, formatYAML, result))
	assert.Contains(t, buf.String(), "compound_id: 2244")
	assert.Contains(t, buf.String(), "success: true")

	buf.Reset()
	require.NoError(t, writeOutput(&buf, formatJSON, result))
	assert.Contains(t, buf.String(), `"compound_id": 2244`)

	assert.Error(t, writeOutput(&buf, "toml", result))
}
