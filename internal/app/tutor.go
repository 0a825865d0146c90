package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/winzerprince/oc-tutor/internal/apperr"
	"github.com/winzerprince/oc-tutor/internal/chat"
	"github.com/winzerprince/oc-tutor/internal/embeddings"
	"github.com/winzerprince/oc-tutor/internal/quiz"
	"github.com/winzerprince/oc-tutor/internal/session"
	"github.com/winzerprince/oc-tutor/internal/vector"
)

const NoKnowledgeBase = "No knowledge base loaded yet. Please upload a PDF first."

// Tutor handles one chat turn against a course, including quiz mode.
type Tutor struct {
	Courses       *Store
	Quiz          *quiz.StateStore
	SessionDir    string
	DefaultCourse string
	Embedder      embeddings.Embedder
	Answerer      *chat.Answerer
	K             int
	// Searcher overrides the in-memory search over the course pair, e.g. with a Qdrant mirror.
	Searcher func(course string, p *vector.Pair) (chat.Searcher, error)
	Now      func() time.Time
}

type TurnRequest struct {
	Course       string `json:"course"`
	SessionTitle string `json:"sessionTitle"`
	Message      string `json:"message"`
}

type TurnResponse struct {
	Transcript   string `json:"transcript"`
	Response     string `json:"response"`
	Mode         string `json:"mode"`
	SessionTitle string `json:"sessionTitle"`
	// Question is the bare quiz question when the reply asked one.
	Question string `json:"question,omitempty"`
	Fallback bool   `json:"fallback"`
}

// SessionTitle is the default title of the day's conversation about course.
func SessionTitle(course string, now time.Time) string {
	return fmt.Sprintf("Chat %s - %s", course, now.Format("2006-01-02"))
}

func (t *Tutor) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Handle runs one turn: quiz triggers first, then grading of a pending quiz
// answer, otherwise retrieval and an answer in the course's current mode.
func (t *Tutor) Handle(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, fmt.Errorf("message is required: %w", apperr.ErrInvalidArguments)
	}
	course := strings.TrimSpace(req.Course)
	if course == "" {
		course = t.DefaultCourse
	}
	if err := ValidName(course); err != nil {
		return nil, err
	}
	title := req.SessionTitle
	if title == "" {
		title = SessionTitle(course, t.now())
	}
	logger := log.WithFields(log.Fields{"course": course, "session": title})
	resp := &TurnResponse{Transcript: msg, SessionTitle: title, Mode: chat.ModeChat.String()}

	if quiz.IsTrigger(msg) {
		if err := t.Quiz.Set(course, quiz.State{Mode: quiz.ModeQuiz}); err != nil {
			return nil, err
		}
		logger.Info("quiz mode activated")
		resp.Response = quiz.Activated
		resp.Mode = chat.ModeQuiz.String()
		return resp, nil
	}

	sess, err := session.Open(session.PathFor(t.SessionDir, title))
	if err != nil {
		return nil, err
	}

	pair, err := t.Courses.LoadPair(course)
	if errors.Is(err, apperr.ErrMissingInput) {
		resp.Response = NoKnowledgeBase
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	state, err := t.Quiz.Get(course)
	if err != nil {
		return nil, err
	}

	if state.Pending() {
		correct, feedback := quiz.Grade(msg, state.Answer)
		if err := t.Quiz.Clear(course); err != nil {
			return nil, err
		}
		sess.Exchange(msg, feedback)
		if err := sess.Save(); err != nil {
			return nil, err
		}
		logger.WithField("correct", correct).Info("quiz answer graded")
		resp.Response = feedback
		resp.Mode = chat.ModeQuiz.String()
		return resp, nil
	}

	mode := chat.ModeChat
	if state.Active() {
		mode = chat.ModeQuiz
	}

	r := chat.NewRetriever(t.Embedder, pair)
	if t.Searcher != nil {
		s, err := t.Searcher(course, pair)
		if err != nil {
			return nil, err
		}
		r.Searcher = s
	}

	res, err := t.Answerer.Ask(ctx, r, sess, msg, t.K, mode)
	if err != nil {
		return nil, err
	}
	resp.Response = res.Answer
	resp.Mode = mode.String()
	resp.Fallback = res.Fallback

	if q, a, ok := quiz.ExtractQA(res.Answer); ok {
		if err := t.Quiz.Set(course, quiz.State{Mode: quiz.ModeQuiz, Question: q, Answer: a}); err != nil {
			return nil, err
		}
		resp.Question = q
		resp.Mode = chat.ModeQuiz.String()
	}
	return resp, nil
}
