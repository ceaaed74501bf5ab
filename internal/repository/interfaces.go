// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"lidar-service/internal/model"

	"github.com/google/uuid"
)

// ScanRepository defines scan session archive data access operations
type ScanRepository interface {
	// Session lifecycle
	CreateSession(ctx context.Context, session *model.ScanSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.ScanSession, error)
	UpdateSessionState(ctx context.Context, id uuid.UUID, state model.SessionState, failureReason string) error
	MarkSessionStopped(ctx context.Context, id uuid.UUID, state model.SessionState, failureReason string, stoppedAt time.Time) error
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// Listing and filtering
	ListSessions(ctx context.Context, filter *SessionFilter) ([]*model.ScanSession, int, error)

	// Frame archive
	AppendFrame(ctx context.Context, frame *model.FrameRecord) error
	ListFrames(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]*model.FrameRecord, error)
	GetSessionStats(ctx context.Context, sessionID uuid.UUID) (*model.SessionStats, error)

	// Cleanup
	DeleteOldSessions(ctx context.Context, olderThan time.Time) (int64, error)
}

// SessionFilter represents session listing filters
type SessionFilter struct {
	State     *model.SessionState `json:"state,omitempty"`
	Port      *string             `json:"port,omitempty"`
	StartDate *time.Time          `json:"start_date,omitempty"`
	EndDate   *time.Time          `json:"end_date,omitempty"`
	Page      int                 `json:"page"`
	PerPage   int                 `json:"per_page"`
	SortBy    string              `json:"sort_by"`
	SortOrder string              `json:"sort_order"`
}
