package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Tblanchard-tessan/mobile-healthhub/internal/domain"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/repository"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/store"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/transformer"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/validator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ValidationError 批次被校验门禁整体拒绝
// Details 为全部违规消息（HTTP 层截断展示）
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("batch validation failed with %d violations", len(e.Details))
}

// SyncResult 批次同步结果
type SyncResult struct {
	Success       bool
	SyncedCount   int
	FailedCount   int
	Errors        []string // 逐条持久化错误（已截断）
	CorrelationID string
}

// Partial 部分成功：有记录落库也有记录被存储层拒绝
func (r *SyncResult) Partial() bool {
	return r.SyncedCount > 0 && r.FailedCount > 0
}

// SyncService 批次同步协调器
//
// 编排 校验 → 归一化 → 幂等写入 → 结果归类。
// 自身无状态，可被并发调用；唯一共享可变资源是注入的存储句柄。
type SyncService struct {
	repo        repository.HealthRecordsRepository
	transformer *transformer.HealthTransformer
	statusCache *store.SyncStatusCache // 可为 nil（缓存未启用）
	logger      *zap.Logger
}

// NewSyncService 创建批次同步协调器
// statusCache 传 nil 时关闭同步状态缓存
func NewSyncService(repo repository.HealthRecordsRepository, statusCache *store.SyncStatusCache, logger *zap.Logger) *SyncService {
	return &SyncService{
		repo:        repo,
		transformer: transformer.NewHealthTransformer(logger),
		statusCache: statusCache,
		logger:      logger,
	}
}

// SyncBatch 处理一个上报批次
//
// 校验失败返回 *ValidationError，不触碰存储；
// 归一化失败与事务级失败作为内部错误返回；
// 其余情况返回 SyncResult（全量成功 / 部分成功 / 全部失败）。
func (s *SyncService) SyncBatch(ctx context.Context, metrics any, correlationID string) (*SyncResult, error) {
	if correlationID == "" {
		correlationID = "auto-" + uuid.NewString()
	}
	log := s.logger.With(zap.String("correlation_id", correlationID))

	ok, violations := validator.ValidateBatch(metrics)
	if !ok {
		log.Warn("Batch validation failed", zap.Int("violations", len(violations)))
		return nil, &ValidationError{Details: violations}
	}

	list := metrics.([]any) // ValidateBatch 通过后必为 []any

	records := make([]*domain.HealthRecord, 0, len(list))
	for i, elem := range list {
		rec, err := s.transformer.Transform(elem.(map[string]any))
		if err != nil {
			// 校验已通过，归一化失败属于契约违规
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}

	result, err := s.repo.UpsertBatch(ctx, records, correlationID)
	if err != nil {
		return nil, fmt.Errorf("batch upsert failed: %w", err)
	}

	sync := &SyncResult{
		Success:       result.AllSucceeded,
		SyncedCount:   result.Synced,
		FailedCount:   result.Failed,
		Errors:        result.Errors,
		CorrelationID: correlationID,
	}

	switch {
	case sync.Success:
		log.Info("Batch synced",
			zap.Int("synced_count", sync.SyncedCount),
		)
	case sync.Partial():
		log.Warn("Batch partially synced",
			zap.Int("synced_count", sync.SyncedCount),
			zap.Int("failed_count", sync.FailedCount),
		)
	default:
		log.Error("Batch sync failed for every record",
			zap.Int("failed_count", sync.FailedCount),
		)
	}

	if sync.SyncedCount > 0 {
		s.updateSyncStatus(ctx, records, result.FailedIndexes, sync)
	}

	return sync, nil
}

// updateSyncStatus 批次提交后刷新各设备的同步状态缓存
// 只统计实际落库的记录：被存储层拒绝的下标不参与 lastTimestamp 计算。
// 尽力而为：缓存失败只记日志，绝不影响批次结果
func (s *SyncService) updateSyncStatus(ctx context.Context, records []*domain.HealthRecord, failedIndexes []int, sync *SyncResult) {
	if s.statusCache == nil {
		return
	}

	failed := make(map[int]struct{}, len(failedIndexes))
	for _, i := range failedIndexes {
		failed[i] = struct{}{}
	}

	type deviceKey struct {
		userID   string
		deviceID string
	}
	latest := make(map[deviceKey]int64)
	for i, rec := range records {
		if _, skip := failed[i]; skip {
			continue
		}
		k := deviceKey{userID: rec.UserID, deviceID: rec.DeviceID}
		if ms := rec.Timestamp.UnixMilli(); ms > latest[k] {
			latest[k] = ms
		}
	}

	now := time.Now().UTC()
	for k, ms := range latest {
		status := &store.SyncStatus{
			UserID:        k.userID,
			DeviceID:      k.deviceID,
			LastSyncAt:    now,
			LastTimestamp: ms,
			SyncedCount:   sync.SyncedCount,
			CorrelationID: sync.CorrelationID,
		}
		if err := s.statusCache.Update(ctx, status); err != nil {
			s.logger.Warn("Failed to update sync status cache",
				zap.String("correlation_id", sync.CorrelationID),
				zap.String("user_id", k.userID),
				zap.String("device_id", k.deviceID),
				zap.Error(err),
			)
		}
	}
}

// GetSyncStatus 读取设备同步状态快照
// 缓存未启用或条目不存在时返回 (nil, store.ErrMiss)
func (s *SyncService) GetSyncStatus(ctx context.Context, userID, deviceID string) (*store.SyncStatus, error) {
	if s.statusCache == nil {
		return nil, store.ErrMiss
	}
	return s.statusCache.Get(ctx, userID, deviceID)
}

// GetLatestRecord 读取 (userId, deviceId) 的最新记录
func (s *SyncService) GetLatestRecord(ctx context.Context, userID, deviceID string) (*domain.HealthRecord, error) {
	return s.repo.GetLatestRecord(ctx, userID, deviceID)
}

// ListRecords 分页查询用户健康记录
func (s *SyncService) ListRecords(ctx context.Context, userID string, filters *repository.RecordFilters, page, size int) ([]*domain.HealthRecord, int, error) {
	return s.repo.ListRecords(ctx, userID, filters, page, size)
}
