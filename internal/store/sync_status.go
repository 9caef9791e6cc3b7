package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// syncStatusKeyPrefix 设备同步状态缓存键前缀
// 完整键格式: health-sync:status:<userId>:<deviceId>
const syncStatusKeyPrefix = "health-sync:status:"

// SyncStatus 设备最近一次成功同步的快照
// 纯粹用于运维观测，不参与任何去重/幂等逻辑
type SyncStatus struct {
	UserID        string    `json:"userId"`
	DeviceID      string    `json:"deviceId"`
	LastSyncAt    time.Time `json:"lastSyncAt"`
	LastTimestamp int64     `json:"lastTimestamp"` // 批次中实际落库记录的最大时间戳（epoch 毫秒）
	SyncedCount   int       `json:"syncedCount"`
	CorrelationID string    `json:"correlationId"`
}

// SyncStatusCache 设备同步状态缓存
type SyncStatusCache struct {
	kv     KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewSyncStatusCache 创建同步状态缓存
func NewSyncStatusCache(kv KV, ttl time.Duration, logger *zap.Logger) *SyncStatusCache {
	return &SyncStatusCache{kv: kv, ttl: ttl, logger: logger}
}

func syncStatusKey(userID, deviceID string) string {
	return syncStatusKeyPrefix + userID + ":" + deviceID
}

// Update 批次提交成功后写入状态快照
// 缓存失败只记日志，调用方不感知
func (c *SyncStatusCache) Update(ctx context.Context, status *SyncStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal sync status: %w", err)
	}

	key := syncStatusKey(status.UserID, status.DeviceID)
	if err := c.kv.Set(ctx, key, string(raw), c.ttl); err != nil {
		return fmt.Errorf("failed to cache sync status: %w", err)
	}

	c.logger.Debug("Sync status cached",
		zap.String("key", key),
		zap.Int("synced_count", status.SyncedCount),
	)
	return nil
}

// Get 读取设备同步状态
// 不存在时返回 (nil, ErrMiss)
func (c *SyncStatusCache) Get(ctx context.Context, userID, deviceID string) (*SyncStatus, error) {
	raw, err := c.kv.Get(ctx, syncStatusKey(userID, deviceID))
	if err != nil {
		return nil, err
	}

	var status SyncStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("failed to decode sync status: %w", err)
	}
	return &status, nil
}
