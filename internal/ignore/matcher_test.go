package ignore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	return NewMatcher(true, nil)
}

func TestIsIgnored_BuildDirectory(t *testing.T) {
	m := newTestMatcher(t)
	m.SetRules("file:///w", []IgnoreFile{
		{URI: "file:///w/.ctxfuse/ignore", Content: "build/\n"},
	})

	assert.True(t, m.IsIgnored("file:///w/build/out.js"))
	assert.False(t, m.IsIgnored("file:///w/src/out.js"))
}

func TestIsIgnored_InactiveAlwaysFalse(t *testing.T) {
	m := NewMatcher(false, nil)
	m.SetRules("file:///w", []IgnoreFile{
		{URI: "file:///w/.ctxfuse/ignore", Content: "*\n"},
	})

	assert.False(t, m.IsIgnored("file:///w/anything.go"))
}

func TestIsIgnored_NonFileSchemeFalse(t *testing.T) {
	m := newTestMatcher(t)
	m.SetRules("file:///w", []IgnoreFile{
		{URI: "file:///w/.ctxfuse/ignore", Content: "*\n"},
	})

	assert.False(t, m.IsIgnored("https://example.com/w/secret.env"))
	assert.False(t, m.IsIgnored("untitled:Untitled-1"))
}

func TestIsIgnored_RelativeURIPanics(t *testing.T) {
	m := newTestMatcher(t)
	assert.Panics(t, func() {
		m.IsIgnored("src/main.go")
	})
}

func TestSetRules_ContractPanics(t *testing.T) {
	m := newTestMatcher(t)

	assert.Panics(t, func() {
		m.SetRules("relative/root", nil)
	}, "relative root URI")

	assert.Panics(t, func() {
		m.SetRules("https://example.com/w", nil)
	}, "non-file root URI")

	assert.Panics(t, func() {
		m.SetRules("file:///w", []IgnoreFile{
			{URI: "file:///w/.gitignore", Content: ""},
		})
	}, "wrong ignore file suffix")
}

func TestSetRules_ReplacesNotMerges(t *testing.T) {
	m := newTestMatcher(t)
	root := "file:///w"

	m.SetRules(root, []IgnoreFile{
		{URI: "file:///w/.ctxfuse/ignore", Content: "build/\n"},
	})
	assert.True(t, m.IsIgnored("file:///w/build/out.js"))

	m.SetRules(root, []IgnoreFile{
		{URI: "file:///w/.ctxfuse/ignore", Content: "dist/\n"},
	})
	assert.False(t, m.IsIgnored("file:///w/build/out.js"), "old rules must be gone")
	assert.True(t, m.IsIgnored("file:///w/dist/bundle.js"))
}

func TestIsIgnored_NestedIgnoreFileScopesToItsDirectory(t *testing.T) {
	m := newTestMatcher(t)
	m.SetRules("file:///w", []IgnoreFile{
		{URI: "file:///w/packages/api/.ctxfuse/ignore", Content: "generated/\n"},
	})

	assert.True(t, m.IsIgnored("file:///w/packages/api/generated/client.ts"))
	assert.False(t, m.IsIgnored("file:///w/generated/client.ts"))
	assert.False(t, m.IsIgnored("file:///w/packages/web/generated/client.ts"))
}

func TestIsIgnored_NegationUnignores(t *testing.T) {
	m := newTestMatcher(t)
	m.SetRules("file:///w", []IgnoreFile{
		{URI: "file:///w/.ctxfuse/ignore", Content: "logs/\n!logs/keep.log\n"},
	})

	assert.True(t, m.IsIgnored("file:///w/logs/app.log"))
	assert.False(t, m.IsIgnored("file:///w/logs/keep.log"))
	assert.True(t, m.IsIgnored("file:///w/logs/other.log"), "negation must not widen")
}

func TestIsIgnored_DefaultEnvRule(t *testing.T) {
	m := newTestMatcher(t)
	m.SetRules("file:///w", nil)

	assert.True(t, m.IsIgnored("file:///w/.env"))
	assert.False(t, m.IsIgnored("file:///w/environment.go"))
}

func TestIsIgnored_NoRootFallsBackToDefaults(t *testing.T) {
	m := newTestMatcher(t)
	m.SetRules("file:///w", []IgnoreFile{
		{URI: "file:///w/.ctxfuse/ignore", Content: "build/\n"},
	})

	// Outside every registered root only default rules apply, by basename
	assert.True(t, m.IsIgnored("file:///elsewhere/project/.env"))
	assert.False(t, m.IsIgnored("file:///elsewhere/build/out.js"))
}

func TestIsIgnored_ShortestRootWins(t *testing.T) {
	m := newTestMatcher(t)
	m.SetRules("file:///w", []IgnoreFile{
		{URI: "file:///w/.ctxfuse/ignore", Content: "outer/\n"},
	})
	m.SetRules("file:///w/nested", []IgnoreFile{
		{URI: "file:///w/nested/.ctxfuse/ignore", Content: "inner/\n"},
	})

	// /w is the shortest root that prefixes the path, so its rules apply
	assert.False(t, m.IsIgnored("file:///w/nested/inner/x.go"))
	assert.True(t, m.IsIgnored("file:///w/outer/x.go"))
}

func TestIsIgnored_Idempotent(t *testing.T) {
	m := newTestMatcher(t)
	m.SetRules("file:///w", []IgnoreFile{
		{URI: "file:///w/.ctxfuse/ignore", Content: "build/\n"},
	})

	uri := "file:///w/build/out.js"
	first := m.IsIgnored(uri)
	second := m.IsIgnored(uri)
	assert.Equal(t, first, second)
	assert.True(t, first)
}

func TestFindIgnoreFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".ctxfuse"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub", ".ctxfuse"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "dep", ".ctxfuse"), 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ctxfuse", "ignore"), []byte("build/\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", ".ctxfuse", "ignore"), []byte("tmp/\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "dep", ".ctxfuse", "ignore"), []byte("x\n"), 0o644))

	files, err := FindIgnoreFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2, "node_modules must be skipped")
}

func TestLoadRules_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".ctxfuse"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ctxfuse", "ignore"), []byte("secrets/\n"), 0o644))

	m := newTestMatcher(t)
	require.NoError(t, LoadRules(m, dir))

	assert.True(t, m.IsIgnored(PathToURI(filepath.Join(dir, "secrets", "key.pem"))))
	assert.False(t, m.IsIgnored(PathToURI(filepath.Join(dir, "main.go"))))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	ctxDir := filepath.Join(dir, ".ctxfuse")
	require.NoError(t, os.MkdirAll(ctxDir, 0o755))
	ignorePath := filepath.Join(ctxDir, "ignore")
	require.NoError(t, os.WriteFile(ignorePath, []byte("build/\n"), 0o644))

	m := newTestMatcher(t)
	require.NoError(t, LoadRules(m, dir))

	w, err := NewWatcher(m, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	require.NoError(t, w.WatchRoot(dir))

	require.NoError(t, os.WriteFile(ignorePath, []byte("dist/\n"), 0o644))

	distURI := PathToURI(filepath.Join(dir, "dist", "bundle.js"))
	assert.Eventually(t, func() bool {
		return m.IsIgnored(distURI)
	}, 3*time.Second, 20*time.Millisecond, "new rule must take effect after reload")

	assert.False(t, m.IsIgnored(PathToURI(filepath.Join(dir, "build", "out.js"))))
}
