// Package quiz holds the per-course quiz state and the helpers that detect,
// extract and grade quiz questions.
package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const ModeQuiz = "quiz"

const Activated = "Quiz mode activated! Let's begin."

var triggers = []string{"start quiz", "quiz time", "begin quiz", "let's quiz", "can we quiz"}

// IsTrigger reports whether msg asks to start a quiz.
func IsTrigger(msg string) bool {
	m := strings.ToLower(msg)
	for _, t := range triggers {
		if strings.Contains(m, t) {
			return true
		}
	}
	return false
}

// State is the quiz progress of one course. Answer is set while a question
// is waiting for the student's reply.
type State struct {
	Mode     string `json:"mode"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

func (s *State) Active() bool { return s != nil && s.Mode == ModeQuiz }

func (s *State) Pending() bool { return s.Active() && s.Answer != "" }

// StateStore persists one JSON state file per course.
type StateStore struct {
	Dir string
}

func NewStateStore(dir string) *StateStore {
	return &StateStore{Dir: dir}
}

func (s *StateStore) path(course string) string {
	return filepath.Join(s.Dir, course+".json")
}

// Get returns the course's state, or nil when none is stored.
func (s *StateStore) Get(course string) (*State, error) {
	b, err := os.ReadFile(s.path(course))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("quiz state %s: %w", course, err)
	}
	return &st, nil
}

func (s *StateStore) Set(course string, st State) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	b, _ := json.MarshalIndent(st, "", "  ")
	return os.WriteFile(s.path(course), b, 0o644)
}

func (s *StateStore) Clear(course string) error {
	if err := os.Remove(s.path(course)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

var (
	reQuestion = regexp.MustCompile(`(?i)Question:\s*(.+?)(?:\r?\n|$)`)
	reAnswer   = regexp.MustCompile(`(?i)Answer:\s*([A-D]|.+?)(?:\r?\n|$)`)
)

// ExtractQA finds "Question: ..." and "Answer: ..." lines in a model reply.
// The answer is lower-cased. ok is false unless both are present.
func ExtractQA(reply string) (question, answer string, ok bool) {
	q := reQuestion.FindStringSubmatch(reply)
	a := reAnswer.FindStringSubmatch(reply)
	if q == nil || a == nil {
		return "", "", false
	}
	question = strings.TrimSpace(q[1])
	answer = strings.ToLower(strings.TrimSpace(a[1]))
	if question == "" || answer == "" {
		return "", "", false
	}
	return question, answer, true
}

// QuestionOnly strips the answer line from a reply so it can be shown to the student.
func QuestionOnly(reply string) string {
	if q := reQuestion.FindStringSubmatch(reply); q != nil {
		if s := strings.TrimSpace(q[1]); s != "" {
			return s
		}
	}
	return reply
}

// Grade compares the student's reply to the expected answer, ignoring case
// and surrounding whitespace.
func Grade(reply, answer string) (correct bool, feedback string) {
	correct = strings.EqualFold(strings.TrimSpace(reply), strings.TrimSpace(answer))
	if correct {
		return true, fmt.Sprintf("Correct! The answer is %s. Nice job!", answer)
	}
	return false, fmt.Sprintf("Not quite. The correct answer was %s. But no worries, let's try another!", answer)
}
