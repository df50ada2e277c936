package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"docchat/internal/util"
	"docchat/pkg/domain"
	"docchat/pkg/policy"
	"docchat/pkg/store"
)

// UploadInput is one PDF received from a client.
type UploadInput struct {
	Title            string
	OriginalFilename string
	Body             io.Reader
}

// DocumentView is a document together with its chat history, oldest first.
type DocumentView struct {
	Document domain.Document
	Messages []domain.ChatMessage
}

// UploadDocument stores the PDF, runs analysis and records the document.
// Nothing is recorded when analysis fails, and the stored file is removed.
func (a *App) UploadDocument(ctx context.Context, actor policy.Actor, in UploadInput) (domain.Document, error) {
	if !a.policy.Authorize(actor, policy.ActionCreateDocument, policy.Target{}) {
		return domain.Document{}, ErrForbidden
	}
	original := strings.TrimSpace(filepath.Base(in.OriginalFilename))
	if original == "" || original == "." || in.Body == nil {
		return domain.Document{}, invalidInput("a pdf file is required")
	}
	if !strings.EqualFold(filepath.Ext(original), ".pdf") {
		return domain.Document{}, invalidInput("only pdf files are accepted")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = original
	}

	stored, err := a.files.Save(original, in.Body)
	if err != nil {
		return domain.Document{}, fmt.Errorf("save upload: %w", err)
	}
	logger := util.LoggerFromContext(ctx)

	analyzeCtx, cancel := context.WithTimeout(ctx, a.analysisTimeout)
	result, err := a.analyzer.Analyze(analyzeCtx, a.files.Path(stored))
	cancel()
	if err != nil {
		a.removeFile(ctx, stored)
		logger.Warn("document analysis failed", "stored_filename", stored, "err", err)
		return domain.Document{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	doc := domain.Document{
		ID:               util.NewID(),
		OwnerID:          actor.UserID,
		Title:            title,
		OriginalFilename: original,
		StoredFilename:   stored,
		FullText:         result.FullText,
		Summary:          result.Summary,
		Topics:           result.Topics,
		CreatedAt:        a.timestamp(),
	}
	if doc.Topics == nil {
		doc.Topics = []domain.Topic{}
	}
	if err := a.store.CreateDocument(doc); err != nil {
		a.removeFile(ctx, stored)
		if errors.Is(err, store.ErrMissingParent) {
			// The account was deleted while its session was still valid.
			return domain.Document{}, ErrUnauthenticated
		}
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	a.archiveFile(ctx, stored)
	return doc, nil
}

// ListDocuments returns the actor's own documents, newest first.
func (a *App) ListDocuments(actor policy.Actor) ([]domain.Document, error) {
	if actor.UserID == "" {
		return nil, ErrUnauthenticated
	}
	docs, err := a.store.ListDocumentsByOwner(actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// GetDocument returns a document with its chat history.
func (a *App) GetDocument(actor policy.Actor, id string) (DocumentView, error) {
	doc, err := a.authorizedDocument(actor, policy.ActionReadDocument, id)
	if err != nil {
		return DocumentView{}, err
	}
	msgs, err := a.store.ListMessages(doc.ID)
	if err != nil {
		return DocumentView{}, fmt.Errorf("list messages: %w", err)
	}
	return DocumentView{Document: doc, Messages: msgs}, nil
}

// DeleteDocument removes a document, its chat history and its stored file.
func (a *App) DeleteDocument(ctx context.Context, actor policy.Actor, id string) error {
	doc, err := a.authorizedDocument(actor, policy.ActionDeleteDocument, id)
	if err != nil {
		return err
	}
	deleted, err := a.store.DeleteDocument(doc.ID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if !deleted {
		return a.missingDocument(actor)
	}
	a.removeFile(ctx, doc.StoredFilename)
	return nil
}

// authorizedDocument loads a document and applies the policy. A non-admin
// cannot tell a missing document from someone else's: both are ErrForbidden.
func (a *App) authorizedDocument(actor policy.Actor, action policy.Action, id string) (domain.Document, error) {
	if actor.UserID == "" {
		return domain.Document{}, ErrUnauthenticated
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Document{}, invalidInput("document id is required")
	}
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return domain.Document{}, a.missingDocument(actor)
	}
	if !a.policy.Authorize(actor, action, policy.DocumentTarget(doc)) {
		return domain.Document{}, ErrForbidden
	}
	return doc, nil
}

func (a *App) missingDocument(actor policy.Actor) error {
	if actor.Role == domain.RoleAdmin {
		return ErrNotFound
	}
	return ErrForbidden
}

func (a *App) removeFile(ctx context.Context, stored string) {
	if stored == "" {
		return
	}
	if err := a.files.Delete(stored); err != nil {
		util.LoggerFromContext(ctx).Warn("remove stored file failed", "stored_filename", stored, "err", err)
	}
	if a.archive != nil {
		if err := a.archive.Delete(ctx, stored); err != nil {
			util.LoggerFromContext(ctx).Warn("remove archived file failed", "stored_filename", stored, "err", err)
		}
	}
}

// archiveFile copies an accepted upload to the archive. Failures are logged;
// the local copy stays authoritative.
func (a *App) archiveFile(ctx context.Context, stored string) {
	if a.archive == nil {
		return
	}
	logger := util.LoggerFromContext(ctx)
	f, size, err := a.files.Open(stored)
	if err != nil {
		logger.Warn("open file for archive failed", "stored_filename", stored, "err", err)
		return
	}
	defer f.Close()
	if err := a.archive.Put(ctx, stored, f, size, "application/pdf"); err != nil {
		logger.Warn("archive upload failed", "stored_filename", stored, "err", err)
		return
	}
	logger.Debug("upload archived", slog.String("stored_filename", stored))
}
