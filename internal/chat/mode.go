package chat

import (
	"fmt"
	"strings"

	"github.com/winzerprince/oc-tutor/internal/apperr"
)

// Mode selects the prompt the tutor answers with.
type Mode int

const (
	ModeChat Mode = iota
	ModeQuiz
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chat":
		return ModeChat, nil
	case "quiz":
		return ModeQuiz, nil
	default:
		return ModeChat, fmt.Errorf("unknown mode %q (want chat or quiz): %w", s, apperr.ErrInvalidArguments)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeQuiz:
		return "quiz"
	default:
		return "chat"
	}
}

// Prompt renders the template of mode m.
func (m Mode) Prompt(history, context, question string) string {
	switch m {
	case ModeQuiz:
		return quizPrompt(history, context, question)
	default:
		return chatPrompt(history, context, question)
	}
}

func chatPrompt(history, context, question string) string {
	var b strings.Builder
	b.WriteString("You are a helpful tutor. You are answering based on the following course material:\n\n")
	b.WriteString(context)
	b.WriteString("\n\n")
	b.WriteString("Respond clearly and naturally to the student's question using only the information above.\n")
	b.WriteString("If the question is broad (e.g. \"What is the document about?\"), provide a concise summary based on the beginning or title of the document.\n")
	b.WriteString("Avoid copying exact text. Rephrase naturally like a human would.\n\n")
	b.WriteString("If the answer cannot be found, say: \"I'm not sure based on the document.\"\n\n")
	b.WriteString("Conversation history:\n")
	b.WriteString(history)
	b.WriteString("\n")
	b.WriteString("Student asks:\n")
	b.WriteString(question)
	b.WriteString("\n\nYour response:\n")
	return b.String()
}

func quizPrompt(history, context, question string) string {
	var b strings.Builder
	b.WriteString("You are a helpful tutor. Keep track of the ongoing conversation and be aware of whether you asked a question.\n\n")
	b.WriteString("If the last thing you said was a question, expect the student to reply with an answer.\n")
	b.WriteString("If the student gives an answer, evaluate if it is correct and explain why.\n")
	b.WriteString("If not, continue the conversation helpfully or ask a new question about the course material.\n\n")
	b.WriteString("Use this format when asking:\nQuestion: <question text>\nAnswer: <correct answer>\n\n")
	b.WriteString("Course material:\n")
	b.WriteString(context)
	b.WriteString("\n\n")
	b.WriteString("Conversation:\n")
	b.WriteString(history)
	b.WriteString("\n")
	b.WriteString("Student's latest message:\n")
	b.WriteString(question)
	b.WriteString("\n\nReply:\n")
	return b.String()
}
