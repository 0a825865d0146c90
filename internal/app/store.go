package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/indexer"
	"github.com/winzerprince/oc-tutor/internal/ingest"
	"github.com/winzerprince/oc-tutor/internal/vector"
)

// Store is the knowledge base: one directory per course under DataDir.
type Store struct {
	DataDir string
	Builder *indexer.Builder
	// Structural selects the page-aware chunker for course builds.
	Structural bool
}

func NewStore(dataDir string, b *indexer.Builder) *Store {
	return &Store{DataDir: dataDir, Builder: b}
}

var reName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// ValidName reports whether name can be used as a course directory.
func ValidName(name string) error {
	if !reName.MatchString(name) {
		return fmt.Errorf("invalid course name %q (use letters/numbers/_/-): %w", name, apperr.ErrInvalidArguments)
	}
	return nil
}

type CourseMeta struct {
	Name         string    `json:"name"`
	Source       string    `json:"source,omitempty"`
	SourceSHA256 string    `json:"sourceSha256,omitempty"`
	Chunks       int       `json:"chunks"`
	BuiltAt      time.Time `json:"builtAt,omitempty"`
	// Built is false for course directories without a complete index pair.
	Built bool `json:"built"`
}

type Paths struct {
	Dir   string
	Index string
	Store string
	Meta  string
}

func (s *Store) Paths(course string) Paths {
	dir := filepath.Join(s.DataDir, course)
	return Paths{
		Dir:   dir,
		Index: filepath.Join(dir, "index.json"),
		Store: filepath.Join(dir, "chunks.json"),
		Meta:  filepath.Join(dir, "course.json"),
	}
}

// ListCourses returns every course directory sorted by name.
func (s *Store) ListCourses() ([]CourseMeta, error) {
	ents, err := os.ReadDir(s.DataDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []CourseMeta{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]CourseMeta, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() || !reName.MatchString(e.Name()) {
			continue
		}
		out = append(out, s.meta(e.Name()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) meta(course string) CourseMeta {
	p := s.Paths(course)
	m := CourseMeta{Name: course}
	if b, err := os.ReadFile(p.Meta); err == nil {
		_ = json.Unmarshal(b, &m)
		m.Name = course
	}
	m.Built = s.HasIndex(course)
	return m
}

func (s *Store) writeMeta(course string, m CourseMeta) error {
	b, _ := json.MarshalIndent(m, "", "  ")
	return os.WriteFile(s.Paths(course).Meta, b, 0o644)
}

// HasIndex reports whether both files of the course's pair exist.
func (s *Store) HasIndex(course string) bool {
	p := s.Paths(course)
	hasIndex, hasStore, err := vector.Exists(p.Index, p.Store)
	return err == nil && hasIndex && hasStore
}

// LoadPair loads the course's index pair.
func (s *Store) LoadPair(course string) (*vector.Pair, error) {
	if err := ValidName(course); err != nil {
		return nil, err
	}
	p := s.Paths(course)
	return vector.LoadPair(p.Index, p.Store)
}

// AddSource stores r as the course's source.pdf.
func (s *Store) AddSource(course string, r io.Reader) (string, error) {
	if err := ValidName(course); err != nil {
		return "", err
	}
	dest := filepath.Join(s.Paths(course).Dir, ingest.SourceName)
	if err := ingest.CopyTo(dest, r); err != nil {
		return "", err
	}
	return dest, nil
}

// BuildCourse indexes the course's source document and records its metadata.
func (s *Store) BuildCourse(ctx context.Context, course string) (int, error) {
	if err := ValidName(course); err != nil {
		return 0, err
	}
	if s.Builder == nil {
		return 0, errors.New("store has no index builder")
	}
	p := s.Paths(course)
	src, err := ingest.FindSource(p.Dir)
	if err != nil {
		return 0, err
	}
	if filepath.Base(src) != ingest.SourceName {
		log.WithFields(log.Fields{"course": course, "source": src}).Warn("no source.pdf, using fallback source")
	}

	n, err := s.Builder.Build(ctx, indexer.Request{
		DocumentPath: src,
		IndexPath:    p.Index,
		StorePath:    p.Store,
		Structural:   s.Structural,
	})
	if err != nil {
		return 0, err
	}

	m := CourseMeta{Name: course, Source: src, Chunks: n, BuiltAt: time.Now().UTC(), Built: true}
	if pair, err := vector.LoadPair(p.Index, p.Store); err == nil {
		m.SourceSHA256 = pair.Store.SourceSHA256
	}
	if err := s.writeMeta(course, m); err != nil {
		log.WithError(err).WithField("course", course).Warn("could not write course metadata")
	}
	return n, nil
}

type CourseResult struct {
	Course string `json:"course"`
	Chunks int    `json:"chunks,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type BuildReport struct {
	Built   []CourseResult `json:"built"`
	Skipped []CourseResult `json:"skipped"`
	Failed  []CourseResult `json:"failed"`
}

// BuildAll builds every course that lacks a complete pair, or every course
// when force is set. A rebuild replaces the old pair only once the new one is
// written, so a failed forced rebuild keeps the course searchable. A course without a source document is skipped with a
// warning; other per-course failures are recorded and the batch continues.
func (s *Store) BuildAll(ctx context.Context, force bool) (*BuildReport, error) {
	courses, err := s.ListCourses()
	if err != nil {
		return nil, err
	}
	rep := &BuildReport{Built: []CourseResult{}, Skipped: []CourseResult{}, Failed: []CourseResult{}}

	for _, c := range courses {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		logger := log.WithField("course", c.Name)
		p := s.Paths(c.Name)

		if _, err := ingest.FindSource(p.Dir); err != nil {
			logger.WithError(err).Warn("no pdf found, skipping")
			rep.Skipped = append(rep.Skipped, CourseResult{Course: c.Name, Reason: err.Error()})
			continue
		}

		if !force && c.Built {
			logger.Info("index already exists")
			rep.Skipped = append(rep.Skipped, CourseResult{Course: c.Name, Reason: "up to date"})
			continue
		}

		logger.Info("generating index")
		n, err := s.BuildCourse(ctx, c.Name)
		switch {
		case err == nil:
			logger.WithField("chunks", n).Info("index built")
			rep.Built = append(rep.Built, CourseResult{Course: c.Name, Chunks: n})
		case apperr.Skippable(err):
			logger.WithError(err).Warn("skipping")
			rep.Skipped = append(rep.Skipped, CourseResult{Course: c.Name, Reason: err.Error()})
		default:
			logger.WithError(err).Error("build failed")
			rep.Failed = append(rep.Failed, CourseResult{Course: c.Name, Reason: err.Error()})
		}
	}
	return rep, nil
}
