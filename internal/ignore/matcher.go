package ignore

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"
)

// IgnoreFileSuffix is the fixed location of ignore files relative to the
// directory they govern. An ignore file at <dir>/.ctxfuse/ignore applies to
// everything under <dir>.
const IgnoreFileSuffix = ".ctxfuse/ignore"

// defaultRules apply everywhere, including paths outside any registered root.
var defaultRules = []string{".env"}

// IgnoreFile is the URI and content of one ignore file found in a workspace.
type IgnoreFile struct {
	URI     string
	Content string
}

// rootRules is the compiled rule set for one workspace root.
type rootRules struct {
	rootPath string
	matcher  *gitignore.GitIgnore
}

// Matcher decides whether files are excluded from indexing and retrieval.
// Rule sets are replaced wholesale per root via SetRules; there is no
// incremental update, so callers re-invoke SetRules after any ignore file
// changes (see Watcher).
type Matcher struct {
	mu       sync.RWMutex
	active   bool
	roots    map[string]*rootRules
	fallback *gitignore.GitIgnore
	logger   *zap.Logger
}

// NewMatcher creates a Matcher. When active is false, IsIgnored always
// returns false regardless of registered rules.
func NewMatcher(active bool, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		active:   active,
		roots:    make(map[string]*rootRules),
		fallback: gitignore.CompileIgnoreLines(defaultRules...),
		logger:   logger,
	}
}

// SetActive toggles the matcher on or off
func (m *Matcher) SetActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
}

// SetRules replaces the entire rule set for a workspace root. Each ignore
// file's patterns are rewritten relative to the root using the file's
// effective directory, which is two path segments above the file itself.
//
// Panics on a non-file or relative root URI, or an ignore file whose URI does
// not end in IgnoreFileSuffix. These are caller bugs, not runtime conditions.
func (m *Matcher) SetRules(workspaceRootURI string, files []IgnoreFile) {
	rootPath := mustFilePath(workspaceRootURI, "workspace root")

	lines := make([]string, 0, len(files)*8+len(defaultRules))
	lines = append(lines, defaultRules...)

	for _, f := range files {
		filePath := mustFilePath(f.URI, "ignore file")
		if !strings.HasSuffix(filePath, "/"+IgnoreFileSuffix) {
			panic(fmt.Sprintf("ignore file URI must end with %s: %s", IgnoreFileSuffix, f.URI))
		}

		// <dir>/.ctxfuse/ignore governs <dir>
		effectiveDir := path.Dir(path.Dir(filePath))
		prefix := relativePrefix(rootPath, effectiveDir)
		lines = append(lines, prefixPatterns(f.Content, prefix)...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.roots[rootPath] = &rootRules{
		rootPath: rootPath,
		matcher:  gitignore.CompileIgnoreLines(lines...),
	}
	m.logger.Debug("ignore rules replaced",
		zap.String("root", rootPath),
		zap.Int("files", len(files)),
		zap.Int("patterns", len(lines)))
}

// ClearRules drops the rule set for a root
func (m *Matcher) ClearRules(workspaceRootURI string) {
	rootPath := mustFilePath(workspaceRootURI, "workspace root")

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roots, rootPath)
}

// IsIgnored reports whether the file at uri is excluded. Non-file schemes
// return false; remote and virtual documents are filtered upstream. Panics
// on a relative URI.
func (m *Matcher) IsIgnored(uri string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.active {
		return false
	}

	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		panic(fmt.Sprintf("IsIgnored requires an absolute URI, got %q", uri))
	}
	if u.Scheme != "file" {
		return false
	}
	filePath := path.Clean(u.Path)

	root := m.resolveRootLocked(filePath)
	if root == nil {
		// Unrooted files get only the default rules, matched by bare name
		return m.fallback.MatchesPath(path.Base(filePath))
	}

	rel := strings.TrimPrefix(filePath, root.rootPath)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return false
	}
	return root.matcher.MatchesPath(rel)
}

// resolveRootLocked finds the shortest registered root that is a path prefix
// of filePath. Callers hold at least a read lock.
func (m *Matcher) resolveRootLocked(filePath string) *rootRules {
	candidates := make([]string, 0, len(m.roots))
	for rootPath := range m.roots {
		if filePath == rootPath || strings.HasPrefix(filePath, rootPath+"/") {
			candidates = append(candidates, rootPath)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i]) < len(candidates[j])
	})
	return m.roots[candidates[0]]
}

// mustFilePath parses a file URI and returns its cleaned path, panicking on
// anything that is not an absolute file URI.
func mustFilePath(uri, what string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		panic(fmt.Sprintf("%s must be an absolute URI, got %q", what, uri))
	}
	if u.Scheme != "file" {
		panic(fmt.Sprintf("%s must be a file URI, got %q", what, uri))
	}
	return path.Clean(u.Path)
}

// relativePrefix returns the forward-slash prefix of dir relative to root,
// with a trailing slash, or "" when dir is the root itself.
func relativePrefix(rootPath, dir string) string {
	if dir == rootPath {
		return ""
	}
	rel := strings.TrimPrefix(dir, rootPath)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return ""
	}
	return rel + "/"
}

// prefixPatterns rewrites each pattern line with the effective-dir prefix,
// keeping `!` negations in front. Comments and blank lines are dropped.
func prefixPatterns(content, prefix string) []string {
	rawLines := strings.Split(content, "\n")
	out := make([]string, 0, len(rawLines))
	for _, line := range rawLines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if prefix == "" {
			out = append(out, line)
			continue
		}
		if strings.HasPrefix(line, "!") {
			out = append(out, "!"+prefix+strings.TrimPrefix(line, "!"))
		} else {
			out = append(out, prefix+line)
		}
	}
	return out
}
