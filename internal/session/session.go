// Package session keeps the conversation history of one chat as an
// append-only flat text file.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type Role string

const (
	Student Role = "Student"
	AI      Role = "AI"
)

type Turn struct {
	Role Role
	Text string
}

func (t Turn) String() string {
	return string(t.Role) + ": " + t.Text
}

// Session is one conversation. Turns added with Append are held in memory
// until Save appends them to the file; existing lines are never rewritten.
type Session struct {
	Path  string
	turns []Turn
	saved int
}

// escape marks a continuation line that would otherwise read as a new turn.
const escape = `\`

// encode renders t for the history file, escaping continuation lines that
// start like a turn.
func (t Turn) encode() string {
	lines := strings.Split(t.String(), "\n")
	for i := 1; i < len(lines); i++ {
		l := lines[i]
		if strings.HasPrefix(l, string(Student)+": ") || strings.HasPrefix(l, string(AI)+": ") || strings.HasPrefix(l, escape) {
			lines[i] = escape + l
		}
	}
	return strings.Join(lines, "\n")
}

var reUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// PathFor maps a session title to its history file inside dir.
func PathFor(dir, title string) string {
	name := strings.Trim(reUnsafe.ReplaceAllString(title, "_"), "_")
	if name == "" {
		name = "session"
	}
	return filepath.Join(dir, name+".txt")
}

// Open loads the history at path. A missing file is an empty session.
func Open(path string) (*Session, error) {
	s := &Session{Path: path}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, escape) && len(s.turns) > 0:
			last := &s.turns[len(s.turns)-1]
			last.Text += "\n" + strings.TrimPrefix(line, escape)
		case strings.HasPrefix(line, string(Student)+": "):
			s.turns = append(s.turns, Turn{Role: Student, Text: strings.TrimPrefix(line, string(Student)+": ")})
		case strings.HasPrefix(line, string(AI)+": "):
			s.turns = append(s.turns, Turn{Role: AI, Text: strings.TrimPrefix(line, string(AI)+": ")})
		case len(s.turns) > 0:
			// continuation of a multi-line turn
			last := &s.turns[len(s.turns)-1]
			last.Text += "\n" + line
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for i := range s.turns {
		s.turns[i].Text = strings.TrimRight(s.turns[i].Text, "\n")
	}
	s.saved = len(s.turns)
	return s, nil
}

func (s *Session) Append(role Role, text string) {
	s.turns = append(s.turns, Turn{Role: role, Text: strings.TrimSpace(text)})
}

// Exchange appends a student question and the reply to it.
func (s *Session) Exchange(question, answer string) {
	s.Append(Student, question)
	s.Append(AI, answer)
}

func (s *Session) Turns() []Turn {
	return append([]Turn(nil), s.turns...)
}

// Transcript renders the last limit turns, one "Role: text" block per turn.
// limit <= 0 renders all of them.
func (s *Session) Transcript(limit int) string {
	turns := s.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Save appends the turns added since the last Open or Save.
func (s *Session) Save() error {
	if s.saved == len(s.turns) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, t := range s.turns[s.saved:] {
		if _, err := w.WriteString(t.encode() + "\n"); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.saved = len(s.turns)
	return nil
}
