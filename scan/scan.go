// Package scan finds placeholder tokens in project files, generates images
// for them from nearby prompt comments, and optionally rewrites the tokens.
//
// A token is __placeholder__ or __placeholder_WxH__. Prompts are read from
// "# prompt: ...", "/* prompt: ... */" or "<!-- prompt: ... -->" comments
// on the token's line or within ContextLines lines of it.
package scan

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Defaults.
const (
	DefaultPattern = "__placeholder__"
	DefaultSize    = 512
	ContextLines   = 5
)

var (
	tokenPattern  = regexp.MustCompile(`__placeholder(?:_(\d+)x(\d+))?__`)
	promptPattern = regexp.MustCompile(`#\s*prompt:\s*(.+)|/\*\s*prompt:\s*(.+?)\s*\*/|<!--\s*prompt:\s*(.+?)\s*-->`)
)

// Match is one placeholder token found in a file.
type Match struct {
	File    string `json:"file"`
	Line    int    `json:"line"` // 1-based
	Token   string `json:"token"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Prompt  string `json:"prompt,omitempty"`
	Context string `json:"-"`
}

// Scanner walks a directory tree for files whose path matches Pattern.
type Scanner struct {
	Root string

	// Pattern selects files. A pattern containing glob metacharacters is
	// matched against the base name with filepath.Match; otherwise it must
	// appear somewhere in the path.
	Pattern string
}

// NewScanner returns a Scanner for root with the default pattern when pattern is empty.
func NewScanner(root, pattern string) *Scanner {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if root == "" {
		root = "."
	}
	return &Scanner{Root: root, Pattern: pattern}
}

// Scan returns every token in matching files, in walk order.
// Binary (non UTF-8) files and hidden directories are skipped.
func (s *Scanner) Scan(ctx context.Context) ([]Match, error) {
	if strings.ContainsAny(s.Pattern, "*?[") {
		if _, err := filepath.Match(s.Pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", s.Pattern, err)
		}
	}

	var matches []Match
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != s.Root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.matches(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		matches = append(matches, ScanContent(path, data)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *Scanner) matches(path string) bool {
	if strings.ContainsAny(s.Pattern, "*?[") {
		ok, _ := filepath.Match(s.Pattern, filepath.Base(path))
		return ok
	}
	return strings.Contains(filepath.ToSlash(path), s.Pattern)
}

// ScanContent finds tokens in data, which is attributed to file.
func ScanContent(file string, data []byte) []Match {
	if !utf8.Valid(data) {
		return nil
	}
	lines := strings.Split(string(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))), "\n")

	var out []Match
	for i, line := range lines {
		for _, m := range tokenPattern.FindAllStringSubmatch(line, -1) {
			width, height := parseSize(m)
			start := max(0, i-ContextLines)
			end := min(len(lines), i+ContextLines+1)
			out = append(out, Match{
				File:    file,
				Line:    i + 1,
				Token:   m[0],
				Width:   width,
				Height:  height,
				Prompt:  ExtractPrompt(lines, i),
				Context: strings.Join(lines[start:end], "\n"),
			})
		}
	}
	return out
}

// ExtractPrompt looks for a prompt comment on line i, then in the preceding
// ContextLines lines from the top down, then in the following ones.
func ExtractPrompt(lines []string, i int) string {
	if p := promptIn(lines[i]); p != "" {
		return p
	}
	for j := max(0, i-ContextLines); j < i; j++ {
		if p := promptIn(lines[j]); p != "" {
			return p
		}
	}
	for j := i + 1; j < min(len(lines), i+ContextLines+1); j++ {
		if p := promptIn(lines[j]); p != "" {
			return p
		}
	}
	return ""
}

func promptIn(line string) string {
	m := promptPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g = strings.TrimSpace(g); g != "" {
			return g
		}
	}
	return ""
}

func parseSize(m []string) (int, int) {
	if m[1] == "" || m[2] == "" {
		return DefaultSize, DefaultSize
	}
	w, errW := strconv.Atoi(m[1])
	h, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return DefaultSize, DefaultSize
	}
	return w, h
}
