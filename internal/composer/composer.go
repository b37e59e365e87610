// Package composer assembles the bounded note context and the chat messages
// sent to the generative model.
package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/semnotes/internal/engine"
	"github.com/kalambet/semnotes/internal/ranking"
	"github.com/kalambet/semnotes/internal/session"
)

const (
	// DefaultContextBudget is the total number of characters (runes) of note
	// context handed to the model.
	DefaultContextBudget = 4000

	// MinPerNote is the floor of each note's description slot.
	MinPerNote = 300

	ellipsis = "..."
)

// InsufficientContextAnswer is the sentence the model is told to emit when the
// notes do not contain the answer.
const InsufficientContextAnswer = "I couldn't find enough information in your notes to answer that."

const systemInstruction = `You are an assistant that answers questions using only the user's personal notes.

Rules:
- Synthesize the relevant notes into one cohesive answer. Do not list the notes one by one.
- Use only the information in the provided notes. Do not add outside knowledge, guesses or assumptions.
- If the notes do not contain enough information to answer, reply exactly: "` + InsufficientContextAnswer + `"
- Answer in the same language as the question.`

const followUpNote = "This is a follow-up question. Use the earlier conversation to resolve references such as \"it\" or \"that plan\", but ground the answer in the notes below."

// Composer builds prompts under a fixed context budget.
type Composer struct {
	Budget int
}

// New creates a Composer. If budget <= 0, DefaultContextBudget is used.
func New(budget int) *Composer {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	return &Composer{Budget: budget}
}

// PerNoteBudget returns the description slot for count notes:
// max(MinPerNote, budget/count).
func (c *Composer) PerNoteBudget(count int) int {
	if count <= 0 {
		return c.Budget
	}
	return max(MinPerNote, c.Budget/count)
}

// BuildContext renders the ranked notes as numbered blocks with id, title and
// similarity headers. Descriptions longer than their slot are cut and marked
// with an ellipsis. The returned string never exceeds the budget in runes.
func (c *Composer) BuildContext(results []ranking.Result) string {
	if len(results) == 0 {
		return ""
	}
	perNote := c.PerNoteBudget(len(results))

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[Note %d] id=%s | title=%s | similarity=%.2f\n", i+1, r.ID, r.Metadata.Title, r.Similarity)
		sb.WriteString(truncate(r.Metadata.Description, perNote))
		sb.WriteString("\n\n")
	}

	return truncateHard(strings.TrimRight(sb.String(), "\n"), c.Budget)
}

// BuildMessages returns the chat messages for one RAG turn: the system
// instruction, the prior conversation, then a user message carrying the note
// context and the question. history must not include the current question.
func (c *Composer) BuildMessages(question, noteContext string, history []session.Message) []engine.Message {
	msgs := make([]engine.Message, 0, len(history)+2)
	msgs = append(msgs, engine.Message{Role: engine.RoleSystem, Content: systemInstruction})
	for _, m := range history {
		msgs = append(msgs, engine.Message{Role: m.Role, Content: m.Content})
	}

	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString(followUpNote)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Notes:\n")
	sb.WriteString(noteContext)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)

	msgs = append(msgs, engine.Message{Role: engine.RoleUser, Content: sb.String()})
	return msgs
}

// truncate shortens s to at most limit runes, replacing the tail with an
// ellipsis when anything was cut.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	keep := limit - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + ellipsis
}

// truncateHard cuts s to limit runes with no marker.
func truncateHard(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
