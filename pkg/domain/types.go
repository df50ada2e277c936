package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserSummary is the admin view of a user.
type UserSummary struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Role          UserRole  `json:"role"`
	CreatedAt     time.Time `json:"createdAt"`
	DocumentCount int       `json:"documentCount"`
}

type Topic struct {
	Emoji       string `json:"emoji"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Document struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	Title            string    `json:"title"`
	OriginalFilename string    `json:"originalFilename"`
	StoredFilename   string    `json:"-"`
	FullText         string    `json:"-"`
	Summary          string    `json:"summary"`
	Topics           []Topic   `json:"topics"`
	CreatedAt        time.Time `json:"createdAt"`
}

type ChatMessage struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"documentId"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Session is the identity carried by a validated session token.
type Session struct {
	UserID string   `json:"userId"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
}
