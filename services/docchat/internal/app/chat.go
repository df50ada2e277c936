package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/policy"
	"docchat/pkg/store"
)

// AppendChatTurn answers a question about a document the actor owns. The
// completion sees the system prompt, the document text, the most recent
// prior messages (oldest first) and the new question. Both messages are
// stored together once the answer arrives; a failed completion stores nothing.
func (a *App) AppendChatTurn(ctx context.Context, actor policy.Actor, documentID, text string) (string, error) {
	doc, err := a.authorizedDocument(actor, policy.ActionPostChat, documentID)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", invalidInput("query is required")
	}
	history, err := a.store.ListRecentMessages(doc.ID, a.historyLimit)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	askedAt := a.timestamp()

	completeCtx, cancel := context.WithTimeout(ctx, a.completionTimeout)
	defer cancel()
	answer, err := a.completer.Complete(completeCtx, ai.CompletionRequest{
		Messages: a.chatContext(doc, history, text),
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("chat completion failed", "document_id", doc.ID, "err", err)
		return "", fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	answeredAt := a.timestamp()
	if !answeredAt.After(askedAt) {
		answeredAt = askedAt.Add(time.Microsecond)
	}
	question := domain.ChatMessage{
		ID:        util.NewID(),
		Role:      domain.MessageRoleUser,
		Content:   text,
		CreatedAt: askedAt,
	}
	reply := domain.ChatMessage{
		ID:        util.NewID(),
		Role:      domain.MessageRoleAssistant,
		Content:   answer,
		CreatedAt: answeredAt,
	}
	if err := a.store.AppendChatTurn(doc.ID, question, reply); err != nil {
		if errors.Is(err, store.ErrMissingParent) {
			// Deleted while the completion was running.
			return "", ErrNotFound
		}
		return "", fmt.Errorf("save chat turn: %w", err)
	}
	return answer, nil
}

func (a *App) chatContext(doc domain.Document, history []domain.ChatMessage, question string) []ai.Message {
	msgs := make([]ai.Message, 0, len(history)+3)
	msgs = append(msgs,
		ai.Message{Role: ai.RoleSystem, Content: a.systemPrompt},
		ai.Message{Role: ai.RoleUser, Content: "Document full text:\n" + doc.FullText},
	)
	for _, m := range history {
		role := ai.RoleUser
		if m.Role == domain.MessageRoleAssistant {
			role = ai.RoleAssistant
		}
		msgs = append(msgs, ai.Message{Role: role, Content: m.Content})
	}
	return append(msgs, ai.Message{Role: ai.RoleUser, Content: question})
}
