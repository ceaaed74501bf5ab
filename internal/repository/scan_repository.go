// internal/repository/scan_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lidar-service/internal/database"
	"lidar-service/internal/model"
)

// scanRepository implements ScanRepository interface
type scanRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewScanRepository creates a new scan repository
func NewScanRepository(db *database.DB, logger *zap.Logger) ScanRepository {
	return &scanRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSession creates a new scan session record
func (r *scanRepository) CreateSession(ctx context.Context, session *model.ScanSession) error {
	query := `
		INSERT INTO scan_sessions (
			id, port, serial_number, firmware_version, hardware_version,
			mode_id, mode_name, state, failure_reason, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.Port, session.SerialNumber, session.FirmwareVersion,
		session.HardwareVersion, session.ModeID, session.ModeName,
		session.State, session.FailureReason, session.StartedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create scan session", zap.Error(err), zap.String("session_id", session.ID.String()))
		return fmt.Errorf("failed to create scan session: %w", err)
	}

	r.logger.Info("Scan session created", zap.String("session_id", session.ID.String()))
	return nil
}

// GetSession retrieves a scan session by its UUID
func (r *scanRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.ScanSession, error) {
	query := `
		SELECT id, port, serial_number, firmware_version, hardware_version,
			   mode_id, mode_name, state, failure_reason, started_at,
			   stopped_at, created_at
		FROM scan_sessions WHERE id = $1
	`

	session := &model.ScanSession{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.Port, &session.SerialNumber, &session.FirmwareVersion,
		&session.HardwareVersion, &session.ModeID, &session.ModeName,
		&session.State, &session.FailureReason, &session.StartedAt,
		&session.StoppedAt, &session.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("scan session not found with id: %s", id)
		}
		r.logger.Error("Failed to get scan session", zap.Error(err), zap.String("session_id", id.String()))
		return nil, fmt.Errorf("failed to get scan session: %w", err)
	}

	return session, nil
}

// UpdateSessionState updates session state and failure reason
func (r *scanRepository) UpdateSessionState(ctx context.Context, id uuid.UUID, state model.SessionState, failureReason string) error {
	query := `
		UPDATE scan_sessions SET state = $2, failure_reason = $3
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, state, failureReason)
	if err != nil {
		r.logger.Error("Failed to update session state", zap.Error(err), zap.String("session_id", id.String()))
		return fmt.Errorf("failed to update session state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("scan session not found with id: %s", id)
	}

	return nil
}

// MarkSessionStopped records the terminal state and stop time of a session
func (r *scanRepository) MarkSessionStopped(ctx context.Context, id uuid.UUID, state model.SessionState, failureReason string, stoppedAt time.Time) error {
	query := `
		UPDATE scan_sessions SET state = $2, failure_reason = $3, stopped_at = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, state, failureReason, stoppedAt)
	if err != nil {
		r.logger.Error("Failed to mark session stopped", zap.Error(err), zap.String("session_id", id.String()))
		return fmt.Errorf("failed to mark session stopped: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("scan session not found with id: %s", id)
	}

	r.logger.Info("Scan session stopped",
		zap.String("session_id", id.String()),
		zap.String("state", string(state)),
	)
	return nil
}

// DeleteSession removes a session and its frames
func (r *scanRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM scan_sessions WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to delete scan session", zap.Error(err), zap.String("session_id", id.String()))
		return fmt.Errorf("failed to delete scan session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("scan session not found with id: %s", id)
	}

	return nil
}

// ListSessions retrieves sessions with filtering and pagination
func (r *scanRepository) ListSessions(ctx context.Context, filter *SessionFilter) ([]*model.ScanSession, int, error) {
	// Build WHERE clause
	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.State != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("state = $%d", argIndex))
		args = append(args, *filter.State)
		argIndex++
	}

	if filter.Port != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("port = $%d", argIndex))
		args = append(args, *filter.Port)
		argIndex++
	}

	if filter.StartDate != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("started_at >= $%d", argIndex))
		args = append(args, *filter.StartDate)
		argIndex++
	}

	if filter.EndDate != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("started_at <= $%d", argIndex))
		args = append(args, *filter.EndDate)
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	// Count total records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM scan_sessions %s", whereClause)
	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count scan sessions: %w", err)
	}

	// Build ORDER BY clause
	orderBy := "started_at DESC"
	if filter.SortBy != "" {
		order := "ASC"
		if filter.SortOrder == "desc" {
			order = "DESC"
		}
		orderBy = fmt.Sprintf("%s %s", filter.SortBy, order)
	}

	// Pagination defaults
	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	query := fmt.Sprintf(`
		SELECT id, port, serial_number, firmware_version, hardware_version,
			   mode_id, mode_name, state, failure_reason, started_at,
			   stopped_at, created_at
		FROM scan_sessions %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, whereClause, orderBy, argIndex, argIndex+1)

	args = append(args, perPage, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list scan sessions", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list scan sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*model.ScanSession{}
	for rows.Next() {
		session := &model.ScanSession{}
		err := rows.Scan(
			&session.ID, &session.Port, &session.SerialNumber, &session.FirmwareVersion,
			&session.HardwareVersion, &session.ModeID, &session.ModeName,
			&session.State, &session.FailureReason, &session.StartedAt,
			&session.StoppedAt, &session.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan session row", zap.Error(err))
			continue
		}
		sessions = append(sessions, session)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate session rows: %w", err)
	}

	return sessions, total, nil
}

// AppendFrame archives a frame for a session
func (r *scanRepository) AppendFrame(ctx context.Context, frame *model.FrameRecord) error {
	query := `
		INSERT INTO scan_frames (session_id, seq, sample_count, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		frame.SessionID, frame.Seq, frame.SampleCount, frame.Payload,
	).Scan(&frame.ID, &frame.CreatedAt)

	if err != nil {
		r.logger.Error("Failed to append frame",
			zap.Error(err),
			zap.String("session_id", frame.SessionID.String()),
			zap.Int64("seq", frame.Seq),
		)
		return fmt.Errorf("failed to append frame: %w", err)
	}

	return nil
}

// ListFrames retrieves archived frames for a session ordered by sequence
func (r *scanRepository) ListFrames(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]*model.FrameRecord, error) {
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT id, session_id, seq, sample_count, payload, created_at
		FROM scan_frames
		WHERE session_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID, afterSeq, limit)
	if err != nil {
		r.logger.Error("Failed to list frames", zap.Error(err), zap.String("session_id", sessionID.String()))
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	defer rows.Close()

	frames := []*model.FrameRecord{}
	for rows.Next() {
		frame := &model.FrameRecord{}
		err := rows.Scan(
			&frame.ID, &frame.SessionID, &frame.Seq,
			&frame.SampleCount, &frame.Payload, &frame.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan frame row", zap.Error(err))
			continue
		}
		frames = append(frames, frame)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate frame rows: %w", err)
	}

	return frames, nil
}

// GetSessionStats retrieves frame and sample totals for a session
func (r *scanRepository) GetSessionStats(ctx context.Context, sessionID uuid.UUID) (*model.SessionStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(sample_count), 0)
		FROM scan_frames
		WHERE session_id = $1
	`

	stats := &model.SessionStats{}
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&stats.Frames, &stats.Samples)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}

	return stats, nil
}

// DeleteOldSessions removes terminal sessions older than the given time
func (r *scanRepository) DeleteOldSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM scan_sessions
		WHERE state IN ('STOPPED', 'FAILED') AND started_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		r.logger.Error("Failed to delete old sessions", zap.Error(err))
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		r.logger.Info("Deleted old scan sessions", zap.Int64("count", rowsAffected))
	}

	return rowsAffected, nil
}
