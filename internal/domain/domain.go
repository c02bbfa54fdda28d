package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// Claims is the authenticated caller as vouched for by the identity service.
// For doctors and patients UserID doubles as their participant id.
type Claims struct {
	UserID uuid.UUID `json:"sub"`
	Email  string    `json:"email"`
	Role   Role      `json:"role"`
}

func (c *Claims) IsPatient() bool { return c != nil && c.Role == RolePatient }
func (c *Claims) IsDoctor() bool  { return c != nil && c.Role == RoleDoctor }

type AuditAction string

const (
	ActionCreate     AuditAction = "create"
	ActionRead       AuditAction = "read"
	ActionReschedule AuditAction = "reschedule"
	ActionDelete     AuditAction = "delete"
	ActionConflict   AuditAction = "conflict"
)

type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OccurredAt time.Time `gorm:"autoCreateTime;index"`

	// Who
	UserID   uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	UserRole Role      `gorm:"column:user_role;type:varchar(30);not null"`

	// What
	Action       AuditAction `gorm:"column:action;type:varchar(20);not null;index"`
	ResourceType string      `gorm:"column:resource_type;type:varchar(50);not null;index"`
	ResourceID   string      `gorm:"column:resource_id;type:varchar(50);index"`

	RequestID string `gorm:"column:request_id;type:varchar(50);index"`
	Changes   string `gorm:"column:changes;type:jsonb"`
}

func (AuditLog) TableName() string {
	return "audit.logs"
}
