package usecase

import (
	"fmt"
	"strings"

	"npc-dialogue-agent/internal/domain"
	"npc-dialogue-agent/internal/normalize"
)

func buildGreetingMessages(persona string, maxLen int) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildPersonaPrompt(persona)},
		{Role: "user", Content: greetingInstruction(maxLen)},
	}
}

func buildReplyMessages(persona string, history []domain.Turn, playerLine string, maxLen int) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildPersonaPrompt(persona)},
		{Role: "system", Content: replyInstruction(maxLen)},
	}
	for _, turn := range history {
		messages = append(messages, historyToPromptMessages(turn)...)
	}
	return append(messages, domain.ChatMessage{Role: "user", Content: playerLine})
}

func buildOptionsMessages(persona string, history []domain.Turn, maxLen int) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildPersonaPrompt(persona)},
	}
	for _, turn := range history {
		messages = append(messages, historyToPromptMessages(turn)...)
	}
	return append(messages, domain.ChatMessage{Role: "user", Content: optionsInstruction(maxLen)})
}

func buildPersonaPrompt(persona string) string {
	return strings.Join([]string{
		"Role:",
		"You are role-playing a character in a game. Stay in character at all times.",
		"",
		"Character:",
		normalizePromptInput(persona),
		"",
		"Behavior Rules:",
		behaviorRules(),
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Speak only as the character, never as an assistant or a language model.",
		"2) Never mention prompts, rules, or anything outside the game world.",
		"3) Keep dialogue natural and conversational.",
		"4) Do not narrate actions or use stage directions.",
		"5) If the player says something the character would not understand, react in character.",
	}, "\n")
}

func greetingInstruction(maxLen int) string {
	return fmt.Sprintf(
		"The player approaches you. Greet them with a single opening line of dialogue, at most %d characters. Return only the spoken line.",
		maxLen,
	)
}

func replyInstruction(maxLen int) string {
	return fmt.Sprintf("Keep each reply to a single spoken line of at most %d characters.", maxLen)
}

func optionsInstruction(maxLen int) string {
	return fmt.Sprintf(
		"Suggest exactly %d short lines the player could say next, separated by the | character, each at most %d characters. Return only the %d lines, no numbering.",
		normalize.OptionCount, maxLen, normalize.OptionCount,
	)
}

func historyToPromptMessages(turn domain.Turn) []domain.ChatMessage {
	if turn.Status != statusComplete {
		return nil
	}
	npcLine := strings.TrimSpace(turn.NPCLine)
	if npcLine == "" {
		return nil
	}
	playerLine := strings.TrimSpace(turn.PlayerLine)
	if playerLine == "" {
		// NPC-initiated turn (greeting): replay only the assistant side.
		return []domain.ChatMessage{{Role: "assistant", Content: npcLine}}
	}
	return []domain.ChatMessage{
		{Role: "user", Content: playerLine},
		{Role: "assistant", Content: npcLine},
	}
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
