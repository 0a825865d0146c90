package quiz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTrigger(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Start Quiz please", true},
		{"ok, QUIZ TIME", true},
		{"can we quiz on chapter 2?", true},
		{"Let's quiz!", true},
		{"what is a quiz?", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTrigger(tt.msg))
		})
	}
}

func TestStateStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "quiz_memory")
	s := NewStateStore(dir)

	st, err := s.Get("chem")
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.False(t, st.Active())

	require.NoError(t, s.Set("chem", State{Mode: ModeQuiz}))
	st, err = s.Get("chem")
	require.NoError(t, err)
	assert.True(t, st.Active())
	assert.False(t, st.Pending())

	require.NoError(t, s.Set("chem", State{Mode: ModeQuiz, Question: "Symbol of gold?", Answer: "au"}))
	st, err = s.Get("chem")
	require.NoError(t, err)
	assert.True(t, st.Pending())
	assert.Equal(t, "Symbol of gold?", st.Question)

	require.NoError(t, s.Clear("chem"))
	require.NoError(t, s.Clear("chem"))
	st, err = s.Get("chem")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStateStoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chem.json"), []byte("{"), 0o644))
	_, err := NewStateStore(dir).Get("chem")
	require.Error(t, err)
}

func TestExtractQA(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		question string
		answer   string
		ok       bool
	}{
		{
			name:     "both lines",
			reply:    "Let's go.\nQuestion: What is the symbol of sodium?\nAnswer: Na\n",
			question: "What is the symbol of sodium?",
			answer:   "na",
			ok:       true,
		},
		{
			name:     "multiple choice letter",
			reply:    "question: Which is a noble gas? A) N B) Ne\r\nanswer: B",
			question: "Which is a noble gas? A) N B) Ne",
			answer:   "b",
			ok:       true,
		},
		{
			name:  "no answer line",
			reply: "Question: What is pH?",
		},
		{
			name:  "plain reply",
			reply: "Water boils at 100 degrees.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, a, ok := ExtractQA(tt.reply)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.question, q)
			assert.Equal(t, tt.answer, a)
		})
	}
}

func TestQuestionOnly(t *testing.T) {
	assert.Equal(t, "What is pH?", QuestionOnly("Question: What is pH?\nAnswer: acidity"))
	assert.Equal(t, "no question here", QuestionOnly("no question here"))
}

func TestGrade(t *testing.T) {
	ok, fb := Grade("  NA ", "na")
	assert.True(t, ok)
	assert.Equal(t, "Correct! The answer is na. Nice job!", fb)

	ok, fb = Grade("K", "na")
	assert.False(t, ok)
	assert.Contains(t, fb, "The correct answer was na")
}
