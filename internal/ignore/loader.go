package ignore

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// skipDirs are never descended into while scanning for ignore files
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// FindIgnoreFiles walks rootPath and returns every .ctxfuse/ignore file
// found, loaded and ready to hand to SetRules.
func FindIgnoreFiles(rootPath string) ([]IgnoreFile, error) {
	var files []IgnoreFile

	err := filepath.WalkDir(rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(filepath.ToSlash(p), "/"+IgnoreFileSuffix) {
			return nil
		}

		content, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil
		}
		files = append(files, IgnoreFile{
			URI:     PathToURI(p),
			Content: string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// LoadRules scans rootPath for ignore files and installs them on the matcher
func LoadRules(m *Matcher, rootPath string) error {
	files, err := FindIgnoreFiles(rootPath)
	if err != nil {
		return err
	}
	m.SetRules(PathToURI(rootPath), files)
	return nil
}

// PathToURI converts an absolute local path to a file URI
func PathToURI(p string) string {
	return "file://" + filepath.ToSlash(p)
}
