package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// transitions lists every permitted edge. States absent as keys are unknown.
var transitions = mustTransitionTable(map[Status][]Status{
	StatusSubmitted:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {StatusSubmitted},
})

func mustTransitionTable(table map[Status][]Status) map[Status]map[Status]struct{} {
	out := make(map[Status]map[Status]struct{}, len(table))
	for from := range table {
		out[from] = map[Status]struct{}{}
	}
	for from, targets := range table {
		for _, to := range targets {
			if _, ok := table[to]; !ok {
				panic(fmt.Sprintf("order transition %s -> %s targets an unknown status", from, to))
			}
			if to == from {
				panic(fmt.Sprintf("order transition %s -> %s is a self loop", from, to))
			}
			out[from][to] = struct{}{}
		}
	}
	return out
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to Status) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

const (
	DefaultNumberPrefix = "ORD"
	MaxResourceBytes    = 50 << 20
)

// FormatNumber renders an order number such as ORD-2025-007.
func FormatNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%03d", prefix, year, seq)
}

type Order struct {
	ID                 snowflake.ID                `gorm:"primaryKey" json:"id"`
	Number             string                      `gorm:"type:text;not null;uniqueIndex" json:"number"`
	UserID             snowflake.ID                `gorm:"not null;index" json:"user_id"`
	DesignID           snowflake.ID                `gorm:"not null" json:"design_id"`
	Status             Status                      `gorm:"type:text;not null" json:"status"`
	SizeCM             int                         `gorm:"column:size_cm;not null" json:"size_cm"`
	TokensUsed         int64                       `gorm:"not null" json:"tokens_used"`
	RequestedFormats   datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"requested_formats"`
	AdminNotes         string                      `gorm:"type:text;not null" json:"admin_notes"`
	NotificationSent   bool                        `gorm:"not null" json:"notification_sent"`
	NotificationSentAt *time.Time                  `json:"notification_sent_at,omitempty"`
	CreatedAt          time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time                   `gorm:"not null" json:"updated_at"`
	CompletedAt        *time.Time                  `json:"completed_at,omitempty"`
}

func (Order) TableName() string { return "orders" }

type Deliverable struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID     snowflake.ID `gorm:"not null" json:"order_id"`
	Format      string       `gorm:"type:text;not null" json:"format"`
	FileKey     string       `gorm:"type:text;not null" json:"-"`
	FileName    string       `gorm:"type:text;not null" json:"file_name"`
	SizeBytes   int64        `gorm:"not null" json:"size_bytes"`
	ContentType string       `gorm:"type:text;not null" json:"content_type"`
	UploadedBy  snowflake.ID `gorm:"not null" json:"uploaded_by"`
	UploadedAt  time.Time    `gorm:"not null" json:"uploaded_at"`
}

func (Deliverable) TableName() string { return "order_deliverables" }

type Resource struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID     snowflake.ID `gorm:"not null" json:"order_id"`
	FileKey     string       `gorm:"type:text;not null" json:"-"`
	FileName    string       `gorm:"type:text;not null" json:"file_name"`
	SizeBytes   int64        `gorm:"not null" json:"size_bytes"`
	ContentType string       `gorm:"type:text;not null" json:"content_type"`
	Description string       `gorm:"type:text;not null" json:"description"`
	UploadedBy  snowflake.ID `gorm:"not null" json:"uploaded_by"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (Resource) TableName() string { return "order_resources" }

// Detail is an order together with its uploaded files.
type Detail struct {
	Order
	Deliverables []Deliverable `json:"deliverables"`
	Resources    []Resource    `json:"resources,omitempty"`
}

// MissingFormats returns the requested formats with no uploaded deliverable.
func MissingFormats(requested []string, deliverables []Deliverable) []string {
	have := make(map[string]struct{}, len(deliverables))
	for _, d := range deliverables {
		if d.FileKey != "" {
			have[d.Format] = struct{}{}
		}
	}
	var missing []string
	for _, code := range requested {
		if _, ok := have[code]; !ok {
			missing = append(missing, code)
		}
	}
	return missing
}
