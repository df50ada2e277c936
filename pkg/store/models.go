package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

type DocumentModel struct {
	ID               string         `gorm:"primaryKey"`
	OwnerID          string         `gorm:"not null;index"`
	Title            string         `gorm:"not null"`
	OriginalFilename string         `gorm:"not null"`
	StoredFilename   string         `gorm:"not null"`
	FullText         string         `gorm:"type:text;not null"`
	Summary          string         `gorm:"type:text"`
	Topics           datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null;index"`
}

type ChatMessageModel struct {
	ID         string    `gorm:"primaryKey"`
	DocumentID string    `gorm:"not null;index"`
	Role       string    `gorm:"not null"`
	Content    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

// userSummaryRow is the scan target for the admin user listing.
type userSummaryRow struct {
	ID            string
	Email         string
	Role          string
	CreatedAt     time.Time
	DocumentCount int64
}
