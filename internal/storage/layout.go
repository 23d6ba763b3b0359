// Package storage maps manuscripts onto the on-disk audio tree served to
// readers under /db.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"github.com/loqalabs/loqa-narrator/internal/manuscript"
)

const (
	dbDir    = "db"
	audioDir = "audio"
	outro    = "outro.mp3"
)

var sectionFile = regexp.MustCompile(`^\d{4}\.mp3$`)

// Layout places files below web/db/{id}/audio. Shared canned manuscripts
// are stored under their system identifier and reused by every article that
// falls back to them.
type Layout struct {
	webDir string
}

func New(webDir string) *Layout {
	return &Layout{webDir: webDir}
}

func (l *Layout) WebDir() string { return l.webDir }

// AudioDir is the directory holding all files of owner.
func (l *Layout) AudioDir(owner string) string {
	return filepath.Join(l.webDir, dbDir, owner, audioDir)
}

func (l *Layout) file(owner, name string) (path, link string) {
	path = filepath.Join(l.AudioDir(owner), name)
	link = "/" + dbDir + "/"
	if owner != "" {
		link += url.PathEscape(owner) + "/"
	}
	link += audioDir + "/" + url.PathEscape(name)
	return path, link
}

// SectionAudio is the mp3 of the n-th narrated section, counting from one.
func (l *Layout) SectionAudio(owner string, n int) (path, link string) {
	return l.file(owner, fmt.Sprintf("%04d.mp3", n))
}

func (l *Layout) SectionAlignment(owner string, n int) (path, link string) {
	return l.file(owner, fmt.Sprintf("%04d.json", n))
}

func (l *Layout) Outro(owner string) (path, link string) {
	return l.file(owner, outro)
}

// Complete is the concatenated narration of a whole manuscript.
func (l *Layout) Complete(owner string) (path, link string) {
	name := owner
	if name == "" {
		name = "home"
	}
	return l.file(owner, name+".mp3")
}

// Assign fills the audio and alignment locations of m's narrated sections
// and outro with owner's files.
func (l *Layout) Assign(m *manuscript.Manuscript, owner string) {
	n := 0
	for i := range m.Sections {
		s := &m.Sections[i]
		if !s.Narrated() {
			continue
		}
		n++
		s.AudioPath, s.AudioURL = l.SectionAudio(owner, n)
		s.AlignmentPath, s.AlignmentURL = l.SectionAlignment(owner, n)
	}
	m.Outro.AudioPath, m.Outro.AudioURL = l.Outro(owner)
}

// CountAudio counts the section and outro mp3 files of owner. A missing
// directory counts as zero.
func (l *Layout) CountAudio(owner string) (int, error) {
	entries, err := os.ReadDir(l.AudioDir(owner))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read audio dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if sectionFile.MatchString(e.Name()) || e.Name() == outro {
			n++
		}
	}
	return n, nil
}

// WriteFile replaces path atomically, creating parent directories.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
