package service

import (
	"errors"

	"github.com/dmehra2102/prod-golang-projects/medbook/internal/domain"
	"github.com/google/uuid"
)

var ErrForbidden = errors.New("forbidden: insufficient permissions")

type AuditEntry struct {
	UserID       uuid.UUID
	UserRole     domain.Role
	Action       domain.AuditAction
	ResourceType string
	ResourceID   string
	RequestID    string
	// Changes is marshalled to JSON before it is persisted.
	Changes map[string]any
}
