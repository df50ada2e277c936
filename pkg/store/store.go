package store

import (
	"errors"
	"time"

	"docchat/pkg/domain"
)

var (
	// ErrDuplicateEmail is returned when a user with the same email already exists.
	ErrDuplicateEmail = errors.New("email already exists")

	// ErrInvalidSession covers every reason a session token is rejected.
	ErrInvalidSession = errors.New("invalid session")

	// ErrMissingParent is returned when a write references a user or document that no longer exists.
	ErrMissingParent = errors.New("referenced record does not exist")
)

// Store defines persistence operations for users, documents, and chat messages.
type Store interface {
	// users
	CreateUser(domain.User) error
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers(search string) ([]domain.UserSummary, error)
	DeleteUser(id string) (bool, error)

	// documents
	CreateDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ownerID string) ([]domain.Document, error)
	DeleteDocument(id string) (bool, error)

	// chats
	AppendChatTurn(documentID string, question, answer domain.ChatMessage) error
	ListMessages(documentID string) ([]domain.ChatMessage, error)
	ListRecentMessages(documentID string, limit int) ([]domain.ChatMessage, error)
}

// SessionStore issues and validates session tokens.
type SessionStore interface {
	Issue(userID, email string, role domain.UserRole) (string, error)
	Validate(token string) (domain.Session, error)
	Revoke(token string) error
	TTL() time.Duration
}
