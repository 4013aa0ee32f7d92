package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBundleFileParsesRulesAndDeclarations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.yaml")
	writeFile(t, path, `
rules:
  - name: mutual
    head: mutual_follow(X, Y)
    body: follows(X, Y, _), follows(Y, X, _)
    enabled: true
declarations:
  - predicate: person
    args:
      - name: a
        type: symbol
      - name: b
        type: number
    description: a person record
    tags: [demo]
`)

	b, err := LoadBundleFile(path)
	require.NoError(t, err)
	require.Len(t, b.Rules, 1)
	assert.Equal(t, "mutual", b.Rules[0].Name)
	assert.Equal(t, "mutual_follow(X, Y)", b.Rules[0].Head)
	assert.True(t, b.Rules[0].Enabled)

	require.Len(t, b.Declarations, 1)
	assert.Equal(t, "person", b.Declarations[0].Predicate)
	require.Len(t, b.Declarations[0].Args, 2)
	assert.Equal(t, "number", b.Declarations[0].Args[1].Type)
	assert.Equal(t, []string{"demo"}, b.Declarations[0].Tags)
}

func TestImportBundleIngestsRulesAndDeclarations(t *testing.T) {
	c := mustCache(t)

	b := Bundle{
		Rules: []BundleRule{
			{Name: "mutual", Head: "mutual_follow(X, Y)", Body: "follows(X, Y, _), follows(Y, X, _)", Enabled: true},
		},
		Declarations: []BundleDecl{
			{Predicate: "person", Args: []BundleDeclArg{{Name: "a", Type: "symbol"}}},
		},
	}

	require.NoError(t, c.ImportBundle(b))

	rule, ok := c.Rule("mutual")
	require.True(t, ok)
	assert.True(t, rule.Enabled)
	assert.Equal(t, "mutual_follow(X, Y)", rule.Head)

	decls := c.decls.snapshotByPredicate()
	require.Contains(t, decls, "person")
	assert.Equal(t, []DeclArg{{Name: "a", Type: Symbol}}, decls["person"].Args)
}

func TestExportBundleRoundTrips(t *testing.T) {
	c := mustCache(t)
	require.NoError(t, c.Ingest(Update{
		Kind: RuleCreated, Rkey: "r1",
		Rule: &Rule{Name: "r1", Head: "foo(X)", Body: "bar(X, _)", Enabled: true},
	}))
	require.NoError(t, c.Ingest(Update{
		Kind: DeclarationCreated, Rkey: "d1",
		Declaration: &FactDeclaration{Predicate: "bar", Args: []DeclArg{{Name: "x", Type: Symbol}}},
	}))

	exported := c.ExportBundle()
	require.Len(t, exported.Rules, 1)
	require.Len(t, exported.Declarations, 1)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	require.NoError(t, SaveBundleFile(path, exported))

	reloaded, err := LoadBundleFile(path)
	require.NoError(t, err)
	require.Len(t, reloaded.Rules, 1)
	assert.Equal(t, "foo(X)", reloaded.Rules[0].Head)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
