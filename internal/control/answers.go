package control

import (
	"fmt"
	"regexp"
)

// QuestionToolName is the tool an agent invokes to ask the user a
// structured (e.g. multiple-choice) question. Receiving it suspends the
// session until an answer is submitted.
const QuestionToolName = "ask_user_question"

// FormatAnswer encodes a structured answer as chat text the daemon can
// parse back into answered-question state.
func FormatAnswer(questionID, text string) string {
	return fmt.Sprintf("[answer:%s] %s", questionID, text)
}

var answerPattern = regexp.MustCompile(`^\[answer:([^\]]+)\]\s*`)

// ParseAnswer recognizes the FormatAnswer encoding. Returns the question
// id and the remaining text, or ok=false for ordinary messages.
func ParseAnswer(text string) (questionID, rest string, ok bool) {
	m := answerPattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[1], text[len(m[0]):], true
}
