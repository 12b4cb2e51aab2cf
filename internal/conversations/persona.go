package conversations

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Generator produces text from a prompt (the generative model).
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const personaTimeout = 10 * time.Second

// buildPersonaPrompt asks the model to write the interviewer persona for a role.
func buildPersonaPrompt(jobTitle, userName, customCriteria string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Write a system prompt for an AI video interviewer conducting a mock interview.

Role being interviewed for: %s
Candidate name: %s
`, jobTitle, userName)
	if customCriteria != "" {
		fmt.Fprintf(&b, "Evaluation criteria to emphasize: %s\n", customCriteria)
	}
	b.WriteString(`
The interviewer should be professional and encouraging, ask one question at a
time, follow up on vague answers, and cover both technical depth and
communication skills. Return only the prompt text, no markdown.`)
	return b.String()
}

// fallbackPersona is the deterministic template used when no custom
// instructions are supplied and the model call fails.
func fallbackPersona(jobTitle, userName string) string {
	return fmt.Sprintf(
		"You are a professional interviewer conducting a mock interview for the role of %s. "+
			"The candidate's name is %s. Greet them by name, then ask one question at a time, "+
			"starting with their background and moving into role-specific questions. "+
			"Be encouraging but probe vague answers for specifics. Keep your responses concise.",
		jobTitle, userName,
	)
}

// resolvePersona returns the conversational context for a new interview.
// Custom instructions win outright; otherwise the model generates a persona,
// falling back to the deterministic template on any model failure.
func (h *Handler) resolvePersona(ctx context.Context, jobTitle, userName, customInstructions, customCriteria string) string {
	if customInstructions != "" {
		return customInstructions
	}
	if h.generator != nil {
		genCtx, cancel := context.WithTimeout(ctx, personaTimeout)
		defer cancel()
		persona, err := h.generator.Generate(genCtx, buildPersonaPrompt(jobTitle, userName, customCriteria))
		if err == nil && strings.TrimSpace(persona) != "" {
			return persona
		}
	}
	return fallbackPersona(jobTitle, userName)
}
