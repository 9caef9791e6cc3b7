package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Tblanchard-tessan/mobile-healthhub/internal/domain"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/repository"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepo 内存版 HealthRecordsRepository
type fakeRepo struct {
	mu           sync.Mutex
	upsertCalls  int
	lastRecords  []*domain.HealthRecord
	lastCorrID   string
	result       *repository.UpsertResult
	err          error
	latestRecord *domain.HealthRecord
	latestErr    error
}

func (f *fakeRepo) UpsertBatch(_ context.Context, records []*domain.HealthRecord, correlationID string) (*repository.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	f.lastRecords = records
	f.lastCorrID = correlationID
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRepo) GetLatestRecord(_ context.Context, _, _ string) (*domain.HealthRecord, error) {
	return f.latestRecord, f.latestErr
}

func (f *fakeRepo) ListRecords(_ context.Context, _ string, _ *repository.RecordFilters, _, _ int) ([]*domain.HealthRecord, int, error) {
	return nil, 0, nil
}

var _ repository.HealthRecordsRepository = (*fakeRepo)(nil)

// fakeKV 内存 KV（实现 store.KV）
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string]string)} }

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func validMetric(hash string) map[string]any {
	return map[string]any{
		"userId":     "u1",
		"deviceId":   "d1",
		"timestamp":  float64(1704067200000),
		"heartRate":  float64(72),
		"recordHash": hash,
	}
}

func newService(repo *fakeRepo, kv *fakeKV) *SyncService {
	var cache *store.SyncStatusCache
	if kv != nil {
		cache = store.NewSyncStatusCache(kv, time.Minute, zap.NewNop())
	}
	return NewSyncService(repo, cache, zap.NewNop())
}

func TestSyncBatch_FullSuccess(t *testing.T) {
	repo := &fakeRepo{result: &repository.UpsertResult{Synced: 2, AllSucceeded: true}}
	svc := newService(repo, nil)

	result, err := svc.SyncBatch(context.Background(), []any{validMetric("h1"), validMetric("h2")}, "corr-1")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.SyncedCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.False(t, result.Partial())
	assert.Equal(t, "corr-1", result.CorrelationID)

	assert.Equal(t, 1, repo.upsertCalls)
	assert.Equal(t, "corr-1", repo.lastCorrID)
	require.Len(t, repo.lastRecords, 2)
	assert.Equal(t, "u1", repo.lastRecords[0].UserID)
}

// TestSyncBatch_ValidationRejection 校验失败整批拒绝，不触碰存储
func TestSyncBatch_ValidationRejection(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(repo, nil)

	bad := validMetric("h1")
	bad["heartRate"] = float64(500)

	_, err := svc.SyncBatch(context.Background(), []any{bad}, "corr-2")
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Details, 1)
	assert.Contains(t, verr.Details[0], "Record 0")
	assert.Contains(t, verr.Details[0], "heartRate out of range (30-220 bpm)")

	assert.Equal(t, 0, repo.upsertCalls, "storage must not be touched on validation failure")
}

func TestSyncBatch_StructuralRejection(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(repo, nil)

	_, err := svc.SyncBatch(context.Background(), []any{}, "corr-3")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"metrics array cannot be empty"}, verr.Details)
	assert.Equal(t, 0, repo.upsertCalls)
}

func TestSyncBatch_PartialSuccess(t *testing.T) {
	repo := &fakeRepo{result: &repository.UpsertResult{
		Synced: 2,
		Failed: 1,
		Errors: []string{"Record 1: constraint violation"},
	}}
	svc := newService(repo, nil)

	result, err := svc.SyncBatch(context.Background(), []any{validMetric("h1"), validMetric("h2"), validMetric("h3")}, "corr-4")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.Partial())
	assert.Equal(t, 2, result.SyncedCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, []string{"Record 1: constraint violation"}, result.Errors)
}

func TestSyncBatch_TotalFailure(t *testing.T) {
	repo := &fakeRepo{result: &repository.UpsertResult{Failed: 2, Errors: []string{"Record 0: boom", "Record 1: boom"}}}
	svc := newService(repo, nil)

	result, err := svc.SyncBatch(context.Background(), []any{validMetric("h1"), validMetric("h2")}, "corr-5")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.False(t, result.Partial())
	assert.Equal(t, 0, result.SyncedCount)
	assert.Equal(t, 2, result.FailedCount)
}

// TestSyncBatch_TransactionFailure 事务级失败作为内部错误上抛
func TestSyncBatch_TransactionFailure(t *testing.T) {
	repo := &fakeRepo{err: errors.New("failed to commit health data batch: connection lost")}
	svc := newService(repo, nil)

	result, err := svc.SyncBatch(context.Background(), []any{validMetric("h1")}, "corr-6")
	require.Error(t, err)
	assert.Nil(t, result)

	var verr *ValidationError
	assert.False(t, errors.As(err, &verr), "transaction failure is not a validation error")
	assert.Contains(t, err.Error(), "batch upsert failed")
}

func TestSyncBatch_GeneratesCorrelationID(t *testing.T) {
	repo := &fakeRepo{result: &repository.UpsertResult{Synced: 1, AllSucceeded: true}}
	svc := newService(repo, nil)

	result, err := svc.SyncBatch(context.Background(), []any{validMetric("h1")}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.CorrelationID)
	assert.Contains(t, result.CorrelationID, "auto-")
	assert.Equal(t, result.CorrelationID, repo.lastCorrID)
}

func TestSyncBatch_UpdatesSyncStatusCache(t *testing.T) {
	repo := &fakeRepo{result: &repository.UpsertResult{Synced: 2, AllSucceeded: true}}
	kv := newFakeKV()
	svc := newService(repo, kv)

	older := validMetric("h1")
	newer := validMetric("h2")
	newer["timestamp"] = float64(1704067260000)

	_, err := svc.SyncBatch(context.Background(), []any{older, newer}, "corr-7")
	require.NoError(t, err)

	status, err := svc.GetSyncStatus(context.Background(), "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1704067260000), status.LastTimestamp, "cache should hold the newest record timestamp")
	assert.Equal(t, 2, status.SyncedCount)
	assert.Equal(t, "corr-7", status.CorrelationID)
}

// TestSyncBatch_SyncStatusExcludesFailedRecords 被存储层拒绝的记录
// 不参与 lastTimestamp：部分成功时缓存只反映实际落库的最大时间戳
func TestSyncBatch_SyncStatusExcludesFailedRecords(t *testing.T) {
	repo := &fakeRepo{result: &repository.UpsertResult{
		Synced:        1,
		Failed:        1,
		FailedIndexes: []int{1},
		Errors:        []string{"Record 1: constraint violation"},
	}}
	kv := newFakeKV()
	svc := newService(repo, kv)

	synced := validMetric("h1")
	rejected := validMetric("h2")
	rejected["timestamp"] = float64(1704067260000) // 批次中最新，但未落库

	_, err := svc.SyncBatch(context.Background(), []any{synced, rejected}, "corr-10")
	require.NoError(t, err)

	status, err := svc.GetSyncStatus(context.Background(), "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1704067200000), status.LastTimestamp, "cache must not report a timestamp that was never persisted")
	assert.Equal(t, 1, status.SyncedCount)
}

// TestSyncBatch_CacheFailureDoesNotAffectOutcome 缓存故障不改变批次结果
func TestSyncBatch_CacheFailureDoesNotAffectOutcome(t *testing.T) {
	repo := &fakeRepo{result: &repository.UpsertResult{Synced: 1, AllSucceeded: true}}
	kv := newFakeKV()
	kv.err = errors.New("redis: connection refused")
	svc := newService(repo, kv)

	result, err := svc.SyncBatch(context.Background(), []any{validMetric("h1")}, "corr-8")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.SyncedCount)
}

func TestSyncBatch_NoCacheUpdateWhenNothingSynced(t *testing.T) {
	repo := &fakeRepo{result: &repository.UpsertResult{Failed: 1, Errors: []string{"Record 0: boom"}}}
	kv := newFakeKV()
	svc := newService(repo, kv)

	_, err := svc.SyncBatch(context.Background(), []any{validMetric("h1")}, "corr-9")
	require.NoError(t, err)

	_, err = svc.GetSyncStatus(context.Background(), "u1", "d1")
	assert.ErrorIs(t, err, store.ErrMiss)
}

func TestGetSyncStatus_CacheDisabled(t *testing.T) {
	svc := newService(&fakeRepo{}, nil)

	_, err := svc.GetSyncStatus(context.Background(), "u1", "d1")
	assert.ErrorIs(t, err, store.ErrMiss)
}
