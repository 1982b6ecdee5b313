package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	// LayoutFlat writes every rendering to <dir>/<candidate file name>.
	LayoutFlat = "flat"

	// LayoutByTemplate writes to <dir>/<template stem>/<candidate file name>
	// so that several templates matching one candidate do not collide.
	LayoutByTemplate = "by-template"
)

// DirSink writes renderings of accepted pairs into a directory.
//
// Files are named after the candidate. Rasters are encoded in the
// candidate's own format when it can be written (PNG, JPEG, GIF, TIFF, BMP),
// and as PNG with the extension replaced otherwise. Every file is written to
// a temporary name first and renamed into place, so a reader never sees a
// partial image.
type DirSink struct {
	dir    string
	layout string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir, layout string) (*DirSink, error) {
	switch layout {
	case "":
		layout = LayoutFlat
	case LayoutFlat, LayoutByTemplate:
	default:
		return nil, fmt.Errorf("unknown output layout %q", layout)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &DirSink{dir: dir, layout: layout}, nil
}

// Dir returns the root output directory.
func (s *DirSink) Dir() string {
	return s.dir
}

// RelativePath returns where the rendering for a pair is written, relative
// to the output directory.
func (s *DirSink) RelativePath(templatePath, candidatePath string) string {
	name := filepath.Base(candidatePath)
	if _, err := imaging.FormatFromFilename(name); err != nil {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
	}
	if s.layout == LayoutByTemplate {
		stem := filepath.Base(templatePath)
		stem = strings.TrimSuffix(stem, filepath.Ext(stem))
		return filepath.Join(stem, name)
	}
	return name
}

// Emit encodes img and writes it for the given pair. It returns the path
// written, relative to the output directory.
func (s *DirSink) Emit(templatePath, candidatePath string, img image.Image) (string, error) {
	rel := s.RelativePath(templatePath, candidatePath)
	format, err := imaging.FormatFromFilename(rel)
	if err != nil {
		return "", fmt.Errorf("failed to pick output format: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(95)); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", rel, err)
	}

	if err := WriteFileAtomic(filepath.Join(s.dir, rel), buf.Bytes()); err != nil {
		return "", err
	}
	return rel, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place. The parent directory is created when missing.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// WriteJSONLines writes one JSON document per record, atomically.
func WriteJSONLines[T any](path string, records []T) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}
	return WriteFileAtomic(path, buf.Bytes())
}
