package template

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/vyvo/appsvcbuild/pkg/buildrequest"
)

// LineError reports an edit outside the file.
type LineError struct {
	File  string
	Line  int
	Lines int
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s: line %d out of range (file has %d lines)", e.File, e.Line, e.Lines)
}

// CopyTree copies src into dst recursively, overwriting existing files. Version
// control metadata is skipped so dst keeps its own repository.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := renameio.WriteFile(target, data, info.Mode().Perm()); err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		return nil
	})
}

// EditLines replaces 1-indexed lines of file and rewrites it atomically.
func EditLines(file string, edits []buildrequest.LineEdit) error {
	info, err := os.Stat(file)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	content := string(data)
	trailing := strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}
	for _, e := range edits {
		if e.Line < 1 || e.Line > len(lines) {
			return &LineError{File: filepath.Base(file), Line: e.Line, Lines: len(lines)}
		}
		lines[e.Line-1] = e.Text
	}
	out := strings.Join(lines, "\n")
	if trailing {
		out += "\n"
	}
	return renameio.WriteFile(file, []byte(out), info.Mode().Perm())
}
