package chunker

import (
	"crypto/sha256"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultWindowLines is the number of lines per chunk
	DefaultWindowLines = 50

	// DefaultOverlapLines is the number of lines shared between adjacent chunks
	DefaultOverlapLines = 5

	// MaxChunkBytes caps the size of a single chunk regardless of line count
	MaxChunkBytes = 8192
)

// Chunk is a contiguous line range of a document
type Chunk struct {
	Content     string
	ContentHash [32]byte
	StartLine   int // 1-based, inclusive
	EndLine     int // 1-based, inclusive
}

// Chunker splits document text into overlapping line windows
type Chunker struct {
	windowLines  int
	overlapLines int
}

// New creates a Chunker with the default window and overlap
func New() *Chunker {
	return NewWithWindow(DefaultWindowLines, DefaultOverlapLines)
}

// NewWithWindow creates a Chunker with a custom window size and overlap.
// Invalid values fall back to the defaults.
func NewWithWindow(windowLines, overlapLines int) *Chunker {
	if windowLines <= 0 {
		windowLines = DefaultWindowLines
	}
	if overlapLines < 0 || overlapLines >= windowLines {
		overlapLines = DefaultOverlapLines
		if overlapLines >= windowLines {
			overlapLines = 0
		}
	}
	return &Chunker{
		windowLines:  windowLines,
		overlapLines: overlapLines,
	}
}

// ChunkText splits content into overlapping line windows. Blank-only content
// yields no chunks. Windows that exceed MaxChunkBytes are split on line
// boundaries so no chunk crosses the byte cap.
func (c *Chunker) ChunkText(content string) []*Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	// Drop a trailing empty element from a final newline
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	chunks := make([]*Chunk, 0, len(lines)/c.windowLines+1)
	step := c.windowLines - c.overlapLines

	for start := 0; start < len(lines); start += step {
		end := start + c.windowLines
		if end > len(lines) {
			end = len(lines)
		}

		chunks = append(chunks, c.buildWindows(lines, start, end)...)

		if end == len(lines) {
			break
		}
	}

	return chunks
}

// buildWindows emits one chunk for lines[start:end], splitting further when
// the window exceeds MaxChunkBytes.
func (c *Chunker) buildWindows(lines []string, start, end int) []*Chunk {
	var out []*Chunk
	windowStart := start

	for windowStart < end {
		size := 0
		windowEnd := windowStart
		for windowEnd < end {
			lineSize := len(lines[windowEnd]) + 1
			if size > 0 && size+lineSize > MaxChunkBytes {
				break
			}
			size += lineSize
			windowEnd++
		}

		content := strings.Join(lines[windowStart:windowEnd], "\n")
		if strings.TrimSpace(content) != "" {
			out = append(out, &Chunk{
				Content:     content,
				ContentHash: sha256.Sum256([]byte(content)),
				StartLine:   windowStart + 1,
				EndLine:     windowEnd,
			})
		}
		windowStart = windowEnd
	}

	return out
}

// IsIndexableText reports whether content looks like text rather than a
// binary blob. It rejects content containing NUL bytes or invalid UTF-8.
func IsIndexableText(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	// Inspect at most the first 8KB
	sample := content
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(sample)
}

// DetectLanguage maps a file extension to a language label for the index.
// Unknown extensions return "text".
func DetectLanguage(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return "text"
	}
	switch strings.ToLower(path[idx:]) {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".c", ".h":
		return "c"
	case ".cc", ".cpp", ".hpp", ".cxx":
		return "cpp"
	case ".rb":
		return "ruby"
	case ".sh", ".bash":
		return "shell"
	case ".md", ".markdown":
		return "markdown"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	case ".sql":
		return "sql"
	case ".html", ".htm":
		return "html"
	case ".css":
		return "css"
	default:
		return "text"
	}
}
