package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lumenshop/orders-api/internal/domain"
	"github.com/lumenshop/orders-api/internal/repositories"
)

const auditIDPrefix = "aud_"

const maxAuditPageSize = 100

// AuditLogServiceDeps bundles collaborators for the audit log service.
type AuditLogServiceDeps struct {
	AuditLogs   repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type auditLogService struct {
	auditLogs repositories.AuditLogRepository
	clock     func() time.Time
	newID     func() string
}

// NewAuditLogService wires dependencies into a concrete AuditLogService.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.AuditLogs == nil {
		return nil, errors.New("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &auditLogService{
		auditLogs: deps.AuditLogs,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

// Record appends one immutable entry. It participates in any transaction open
// on the context, so an entry commits together with the mutation it describes.
func (s *auditLogService) Record(ctx context.Context, cmd AuditRecordCommand) (domain.AuditLogEntry, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.AuditLogEntry{}, fmt.Errorf("%w: order id is required", ErrAuditInvalidInput)
	}
	action := strings.TrimSpace(cmd.Action)
	if action == "" {
		return domain.AuditLogEntry{}, fmt.Errorf("%w: action is required", ErrAuditInvalidInput)
	}
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		actor = "system"
	}
	actorKind := strings.TrimSpace(cmd.ActorType)
	if actorKind == "" {
		actorKind = actorTypeSystem
	}

	entry := domain.AuditLogEntry{
		ID:         auditIDPrefix + s.newID(),
		OrderID:    orderID,
		EntityType: strings.TrimSpace(cmd.EntityType),
		EntityID:   strings.TrimSpace(cmd.EntityID),
		Action:     action,
		Actor:      actor,
		ActorType:  actorKind,
		Changes:    maps.Clone(cmd.Changes),
		CreatedAt:  s.clock(),
	}
	if entry.EntityType == "" {
		entry.EntityType = "order"
	}
	if entry.EntityID == "" {
		entry.EntityID = orderID
	}

	if err := s.auditLogs.Append(ctx, entry); err != nil {
		return domain.AuditLogEntry{}, err
	}
	return entry, nil
}

// List returns the order's audit trail, newest first, capped at 100 entries.
func (s *auditLogService) List(ctx context.Context, orderID string, filter repositories.AuditLogFilter) ([]domain.AuditLogEntry, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrAuditInvalidInput)
	}
	if filter.Limit <= 0 || filter.Limit > maxAuditPageSize {
		filter.Limit = maxAuditPageSize
	}
	return s.auditLogs.ListByOrder(ctx, orderID, filter)
}
