package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/lumora/internal/audit/domain"
	"gorm.io/gorm"
)

type Repository struct{}

func Provide() domain.Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs
		 (id, user_id, actor_type, actor_id, action, target_type, target_id, metadata, ip_address, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.ActorType,
		entry.ActorID,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Metadata,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	).Error
}

func (r *Repository) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT * FROM audit_logs WHERE 1=1`)
	args := []any{}

	if filter.UserID != 0 {
		query.WriteString(` AND user_id = ?`)
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		query.WriteString(` AND action = ?`)
		args = append(args, filter.Action)
	}
	if filter.TargetType != "" {
		query.WriteString(` AND target_type = ?`)
		args = append(args, filter.TargetType)
	}
	if filter.TargetID != "" {
		query.WriteString(` AND target_id = ?`)
		args = append(args, filter.TargetID)
	}
	if filter.StartAt != nil {
		query.WriteString(` AND created_at >= ?`)
		args = append(args, *filter.StartAt)
	}
	if filter.EndAt != nil {
		query.WriteString(` AND created_at < ?`)
		args = append(args, *filter.EndAt)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query.WriteString(` ORDER BY created_at DESC, id DESC LIMIT ?`)
	args = append(args, limit)

	var rows []*domain.AuditLog
	err := db.WithContext(ctx).Raw(query.String(), args...).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
