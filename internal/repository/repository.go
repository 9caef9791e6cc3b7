package repository

import (
	"context"

	"github.com/Tblanchard-tessan/mobile-healthhub/internal/domain"
)

// maxSurfacedErrors 返回给调用方的逐条错误上限
// 全部失败数仍然计数，只是消息列表截断
const maxSurfacedErrors = 5

// UpsertResult 批次写入结果
type UpsertResult struct {
	Synced        int      // 成功 insert/update 的记录数
	Failed        int      // 存储层拒绝的记录数
	FailedIndexes []int    // 被拒绝记录的批次下标（不截断，供调用方剔除未落库记录）
	Errors        []string // 前 maxSurfacedErrors 条错误消息（带记录下标）
	AllSucceeded  bool
}

// RecordFilters 查询过滤条件
type RecordFilters struct {
	DeviceID string
	FromMs   int64 // epoch 毫秒，0 表示不限
	ToMs     int64 // epoch 毫秒，0 表示不限
}

// HealthRecordsRepository 健康数据仓库接口
//
// UpsertBatch 是幂等写入入口：同一自然键 (user_id, device_id, timestamp,
// record_hash) 重复提交收敛到同一行，created_at 只在首次插入时赋值
type HealthRecordsRepository interface {
	UpsertBatch(ctx context.Context, records []*domain.HealthRecord, correlationID string) (*UpsertResult, error)
	GetLatestRecord(ctx context.Context, userID, deviceID string) (*domain.HealthRecord, error)
	ListRecords(ctx context.Context, userID string, filters *RecordFilters, page, size int) ([]*domain.HealthRecord, int, error)
}
