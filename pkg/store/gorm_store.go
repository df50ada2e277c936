package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"docchat/pkg/domain"
)

const migrateLockID int64 = 51736021

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&UserModel{}, &DocumentModel{}, &ChatMessageModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			DELETE FROM chat_message_models m
			WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = m.document_id);
			DELETE FROM document_models d
			WHERE NOT EXISTS (SELECT 1 FROM user_models u WHERE u.id = d.owner_id);
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'document_models'
				AND constraint_name = 'document_models_owner_id_fkey'
			) THEN
				ALTER TABLE document_models
				ADD CONSTRAINT document_models_owner_id_fkey
				FOREIGN KEY (owner_id) REFERENCES user_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'chat_message_models'
				AND constraint_name = 'chat_message_models_document_id_fkey'
			) THEN
				ALTER TABLE chat_message_models
				ADD CONSTRAINT chat_message_models_document_id_fkey
				FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure foreign keys: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a user; a taken email yields ErrDuplicateEmail.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// GetUserByEmail looks up a user by normalized email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns users with their document counts, newest first.
// A non-empty search filters by case-insensitive email substring.
func (s *GormStore) ListUsers(search string) ([]domain.UserSummary, error) {
	var rows []userSummaryRow
	tx := s.db.Model(&UserModel{}).
		Select("user_models.id, user_models.email, user_models.role, user_models.created_at, COUNT(document_models.id) AS document_count").
		Joins("LEFT JOIN document_models ON document_models.owner_id = user_models.id").
		Group("user_models.id").
		Order("user_models.created_at DESC")
	if search = strings.TrimSpace(search); search != "" {
		tx = tx.Where("user_models.email ILIKE ?", "%"+likeEscaper.Replace(search)+"%")
	}
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.UserSummary, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.UserSummary{
			ID:            r.ID,
			Email:         r.Email,
			Role:          domain.UserRole(r.Role),
			CreatedAt:     r.CreatedAt,
			DocumentCount: int(r.DocumentCount),
		})
	}
	return res, nil
}

// DeleteUser removes a user with all documents and messages.
func (s *GormStore) DeleteUser(id string) (bool, error) {
	var deleted bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		docIDs := tx.Model(&DocumentModel{}).Select("id").Where("owner_id = ?", id)
		if err := tx.Where("document_id IN (?)", docIDs).Delete(&ChatMessageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&DocumentModel{}, "owner_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&UserModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// CreateDocument stores a new document.
func (s *GormStore) CreateDocument(d domain.Document) error {
	model, err := documentToModel(d)
	if err != nil {
		return err
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return ErrMissingParent
		}
		return err
	}
	return nil
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	doc, err := documentFromModel(model)
	if err != nil {
		return domain.Document{}, false, err
	}
	return doc, true, nil
}

// ListDocumentsByOwner returns an owner's documents, newest first, without full text.
func (s *GormStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Omit("full_text").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		doc, err := documentFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, nil
}

// DeleteDocument removes a document and its messages.
func (s *GormStore) DeleteDocument(id string) (bool, error) {
	var deleted bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChatMessageModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&DocumentModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// AppendChatTurn records a question and its answer atomically.
func (s *GormStore) AppendChatTurn(documentID string, question, answer domain.ChatMessage) error {
	models := []ChatMessageModel{messageToModel(question), messageToModel(answer)}
	for i := range models {
		models[i].DocumentID = documentID
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&models).Error
	})
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return ErrMissingParent
	}
	return err
}

// ListMessages returns the whole history of a document, oldest first.
func (s *GormStore) ListMessages(documentID string) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	if err := s.db.Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// ListRecentMessages returns the latest limit messages (newest first, then reversed to chronological).
func (s *GormStore) ListRecentMessages(documentID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return []domain.ChatMessage{}, nil
	}
	var models []ChatMessageModel
	if err := s.db.Where("document_id = ?", documentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
	}
}

func documentToModel(d domain.Document) (DocumentModel, error) {
	topics := d.Topics
	if topics == nil {
		topics = []domain.Topic{}
	}
	raw, err := json.Marshal(topics)
	if err != nil {
		return DocumentModel{}, fmt.Errorf("encode topics: %w", err)
	}
	return DocumentModel{
		ID:               d.ID,
		OwnerID:          d.OwnerID,
		Title:            d.Title,
		OriginalFilename: d.OriginalFilename,
		StoredFilename:   d.StoredFilename,
		FullText:         d.FullText,
		Summary:          d.Summary,
		Topics:           raw,
		CreatedAt:        d.CreatedAt,
	}, nil
}

func documentFromModel(m DocumentModel) (domain.Document, error) {
	topics := []domain.Topic{}
	if len(m.Topics) > 0 {
		if err := json.Unmarshal(m.Topics, &topics); err != nil {
			return domain.Document{}, fmt.Errorf("decode topics of document %s: %w", m.ID, err)
		}
	}
	return domain.Document{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Title:            m.Title,
		OriginalFilename: m.OriginalFilename,
		StoredFilename:   m.StoredFilename,
		FullText:         m.FullText,
		Summary:          m.Summary,
		Topics:           topics,
		CreatedAt:        m.CreatedAt,
	}, nil
}

func messageToModel(msg domain.ChatMessage) ChatMessageModel {
	return ChatMessageModel{
		ID:         msg.ID,
		DocumentID: msg.DocumentID,
		Role:       string(msg.Role),
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}
}

func messageFromModel(m ChatMessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		Role:       domain.MessageRole(m.Role),
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}
