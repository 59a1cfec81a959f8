package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lumora/internal/audit/domain"
	"github.com/smallbiznis/lumora/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry domain.Entry) {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return
	}

	row := &domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  string(entry.ActorType),
		Action:     action,
		TargetType: entry.TargetType,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  s.clock.Now(),
	}
	if entry.UserID != 0 {
		userID := entry.UserID
		row.UserID = &userID
	}
	if v := strings.TrimSpace(entry.ActorID); v != "" {
		row.ActorID = &v
	}
	if v := strings.TrimSpace(entry.TargetID); v != "" {
		row.TargetID = &v
	}
	if v := strings.TrimSpace(entry.IPAddress); v != "" {
		row.IPAddress = &v
	}
	if v := strings.TrimSpace(entry.UserAgent); v != "" {
		row.UserAgent = &v
	}
	for key, value := range entry.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		row.Metadata[key] = value
	}

	if err := s.repo.Insert(ctx, s.db, row); err != nil {
		s.log.Warn("audit insert failed",
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	return s.repo.List(ctx, s.db, filter)
}
