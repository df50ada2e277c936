package store

import (
	"sort"
	"strings"
	"sync"

	"docchat/pkg/domain"
)

// MemoryStore keeps everything in-process. It mirrors GormStore semantics,
// including cascades, and backs tests and single-node development runs.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]domain.User // key: user ID
	email  map[string]string      // email -> user ID
	docs   map[string]domain.Document
	chats  map[string][]domain.ChatMessage // document ID -> messages
	orders []string                        // document IDs in insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		email: make(map[string]string),
		docs:  make(map[string]domain.Document),
		chats: make(map[string][]domain.ChatMessage),
	}
}

// CreateUser registers a user.
func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, exists := m.email[key]; exists {
		return ErrDuplicateEmail
	}
	m.users[u.ID] = u
	m.email[key] = u.ID
	return nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[strings.ToLower(strings.TrimSpace(email))]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns users with document counts, newest first.
func (m *MemoryStore) ListUsers(search string) ([]domain.UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(search))
	counts := make(map[string]int, len(m.users))
	for _, d := range m.docs {
		counts[d.OwnerID]++
	}
	res := make([]domain.UserSummary, 0, len(m.users))
	for _, u := range m.users {
		if needle != "" && !strings.Contains(strings.ToLower(u.Email), needle) {
			continue
		}
		res = append(res, domain.UserSummary{
			ID:            u.ID,
			Email:         u.Email,
			Role:          u.Role,
			CreatedAt:     u.CreatedAt,
			DocumentCount: counts[u.ID],
		})
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// DeleteUser removes a user and cascades to documents and messages.
func (m *MemoryStore) DeleteUser(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	for _, docID := range append([]string(nil), m.orders...) {
		if d, ok := m.docs[docID]; ok && d.OwnerID == id {
			m.deleteDocumentLocked(docID)
		}
	}
	delete(m.users, id)
	delete(m.email, strings.ToLower(u.Email))
	return true, nil
}

// CreateDocument stores a document and tracks insertion order.
func (m *MemoryStore) CreateDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[d.OwnerID]; !ok {
		return ErrMissingParent
	}
	if _, exists := m.docs[d.ID]; !exists {
		m.orders = append(m.orders, d.ID)
	}
	if d.Topics == nil {
		d.Topics = []domain.Topic{}
	}
	m.docs[d.ID] = d
	return nil
}

// GetDocument retrieves a document by ID.
func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	return d, ok, nil
}

// ListDocumentsByOwner returns an owner's documents, newest first.
func (m *MemoryStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for i := len(m.orders) - 1; i >= 0; i-- {
		if d, ok := m.docs[m.orders[i]]; ok && d.OwnerID == ownerID {
			d.FullText = ""
			res = append(res, d)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// DeleteDocument removes a document and its chat history.
func (m *MemoryStore) DeleteDocument(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return false, nil
	}
	m.deleteDocumentLocked(id)
	return true, nil
}

func (m *MemoryStore) deleteDocumentLocked(id string) {
	delete(m.docs, id)
	delete(m.chats, id)
	filtered := m.orders[:0]
	for _, item := range m.orders {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.orders = filtered
}

// AppendChatTurn records a question and answer pair.
func (m *MemoryStore) AppendChatTurn(documentID string, question, answer domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		return ErrMissingParent
	}
	question.DocumentID = documentID
	answer.DocumentID = documentID
	m.chats[documentID] = append(m.chats[documentID], question, answer)
	return nil
}

// ListMessages returns the full chat history, oldest first.
func (m *MemoryStore) ListMessages(documentID string) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedMessagesLocked(documentID), nil
}

// ListRecentMessages returns the latest limit messages in chronological order.
func (m *MemoryStore) ListRecentMessages(documentID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return []domain.ChatMessage{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.sortedMessagesLocked(documentID)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *MemoryStore) sortedMessagesLocked(documentID string) []domain.ChatMessage {
	msgs := append([]domain.ChatMessage{}, m.chats[documentID]...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs
}
