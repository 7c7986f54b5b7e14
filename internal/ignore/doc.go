// Package ignore excludes files from indexing and retrieval based on
// gitignore-style rules.
//
// Rules live in .ctxfuse/ignore files. A file at <dir>/.ctxfuse/ignore
// governs everything under <dir>; its patterns are rewritten relative to the
// workspace root when installed, so one compiled matcher per root answers
// every lookup. A default rule set (currently just .env) always applies,
// including to files outside any registered root.
//
// SetRules replaces a root's rules wholesale. Watcher re-runs the scan and
// replacement whenever an ignore file changes on disk.
package ignore
