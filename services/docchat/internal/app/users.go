package app

import (
	"context"
	"fmt"
	"strings"

	"docchat/internal/util"
	"docchat/pkg/domain"
	"docchat/pkg/policy"
)

// ListUsers returns every account with its document count, newest first.
// A non-empty search filters by case-insensitive email substring.
func (a *App) ListUsers(actor policy.Actor, search string) ([]domain.UserSummary, error) {
	if !a.policy.Authorize(actor, policy.ActionListUsers, policy.Target{}) {
		return nil, ErrForbidden
	}
	users, err := a.store.ListUsers(strings.TrimSpace(search))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ListUserDocuments returns another user's documents for an admin. An unknown
// user id yields an empty list.
func (a *App) ListUserDocuments(actor policy.Actor, userID string) ([]domain.Document, error) {
	if !a.policy.Authorize(actor, policy.ActionListUserDocuments, policy.Target{UserID: userID}) {
		return nil, ErrForbidden
	}
	docs, err := a.store.ListDocumentsByOwner(strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return docs, nil
}

// DeleteUser removes an account together with its documents, chat history
// and stored files. Root is never deletable; only root may delete admins.
func (a *App) DeleteUser(ctx context.Context, actor policy.Actor, userID string) error {
	// Non-admins learn nothing about which ids exist.
	if actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	target, err := a.lookupUser(userID)
	if err != nil {
		return err
	}
	if !a.policy.Authorize(actor, policy.ActionDeleteUser, policy.UserTarget(target)) {
		return ErrForbidden
	}
	docs, err := a.store.ListDocumentsByOwner(target.ID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	deleted, err := a.store.DeleteUser(target.ID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	for _, d := range docs {
		a.removeFile(ctx, d.StoredFilename)
	}
	util.LoggerFromContext(ctx).Info("user deleted", "user_id", target.ID, "documents", len(docs))
	return nil
}

func (a *App) lookupUser(id string) (domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.User{}, invalidInput("user id is required")
	}
	u, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}
