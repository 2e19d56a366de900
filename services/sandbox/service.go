// Package sandbox wipes demo users so integrators can replay onboarding flows.
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/services"
	"go.uber.org/zap"
)

// Config holds sandbox reset settings
type Config struct {
	Enabled    bool
	UserPrefix string
	BatchSize  int
}

// Result counts deleted rows per store
type Result struct {
	UserID        string `json:"userId"`
	Events        int64  `json:"events"`
	Consents      int64  `json:"consents"`
	Snapshots     int64  `json:"snapshots"`
	Alerts        int64  `json:"alerts"`
	Verifications int64  `json:"verifications"`
	Organizations int64  `json:"organizations"`
	Total         int64  `json:"total"`
}

// Service resets sandbox data
type Service struct {
	repos  *repositories.Repositories
	txMgr  repositories.TransactionManager
	config Config
	logger *zap.Logger
}

// NewService creates a new sandbox Service
func NewService(repos *repositories.Repositories, txMgr repositories.TransactionManager, config Config, logger *zap.Logger) *Service {
	if config.BatchSize < 1 {
		config.BatchSize = 500
	}
	return &Service{
		repos:  repos,
		txMgr:  txMgr,
		config: config,
		logger: logger,
	}
}

// ResetSandbox deletes everything stored for a demo user in one transaction.
// With deleteOrgs, organizations flagged as sandbox are removed too.
func (s *Service) ResetSandbox(ctx context.Context, userID string, deleteOrgs bool) (*Result, error) {
	if !s.config.Enabled {
		return nil, services.ErrSandboxDisabled
	}
	if userID == "" {
		return nil, services.NewMissingFieldsError([]string{"userId"})
	}
	if !strings.HasPrefix(userID, s.config.UserPrefix) {
		return nil, services.NewDomainError(services.ErrorTypeForbidden, services.ErrNotSandboxUser.Message, nil).
			WithDetail("requiredPrefix", s.config.UserPrefix)
	}

	result, err := services.WithTransactionResult(ctx, s.txMgr, func(txCtx context.Context) (*Result, error) {
		return s.reset(txCtx, userID, deleteOrgs)
	})
	if err != nil {
		s.logger.Error("sandbox reset failed", zap.String("user_id", userID), zap.Error(err))
		return nil, services.WrapInternal("sandbox reset failed", err)
	}

	s.logger.Info("sandbox reset",
		zap.String("user_id", userID),
		zap.Bool("delete_orgs", deleteOrgs),
		zap.Int64("events", result.Events),
		zap.Int64("consents", result.Consents),
		zap.Int64("snapshots", result.Snapshots),
		zap.Int64("alerts", result.Alerts),
		zap.Int64("verifications", result.Verifications),
		zap.Int64("organizations", result.Organizations),
		zap.Int64("total", result.Total))

	return result, nil
}

type batchDelete func(ctx context.Context, limit int) (int64, error)

type step struct {
	name   string
	count  *int64
	delete batchDelete
}

func (s *Service) reset(ctx context.Context, userID string, deleteOrgs bool) (*Result, error) {
	result := &Result{UserID: userID}

	steps := []step{
		{"events", &result.Events, byUser(userID, s.repos.Events.DeleteByUser)},
		{"consents", &result.Consents, byUser(userID, s.repos.Consents.DeleteByUser)},
		{"snapshots", &result.Snapshots, byUser(userID, s.repos.Snapshots.DeleteByUser)},
		{"alerts", &result.Alerts, byUser(userID, s.repos.Alerts.DeleteByUser)},
		{"verifications", &result.Verifications, byUser(userID, s.repos.Verifications.DeleteByUser)},
	}
	if deleteOrgs {
		steps = append(steps, step{"organizations", &result.Organizations, s.repos.Organizations.DeleteSandbox})
	}

	for _, st := range steps {
		n, err := s.drain(ctx, st.delete)
		if err != nil {
			return nil, fmt.Errorf("failed to delete %s: %w", st.name, err)
		}
		*st.count = n
		result.Total += n
	}
	return result, nil
}

// drain deletes in batches until a short batch signals the store is empty
func (s *Service) drain(ctx context.Context, deleteBatch batchDelete) (int64, error) {
	var total int64
	for {
		n, err := deleteBatch(ctx, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(s.config.BatchSize) {
			return total, nil
		}
	}
}

func byUser(userID string, fn func(ctx context.Context, userID string, limit int) (int64, error)) batchDelete {
	return func(ctx context.Context, limit int) (int64, error) {
		return fn(ctx, userID, limit)
	}
}
