package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Tblanchard-tessan/mobile-healthhub/internal/domain"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/repository"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/service"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBodyBytes 请求体上限（500 条记录的批次远小于该值）
const maxBodyBytes = 2 << 20

// maxSurfacedViolations 400 响应里最多返回的违规数
const maxSurfacedViolations = 10

// HealthSyncService 处理器依赖的同步服务接口
type HealthSyncService interface {
	SyncBatch(ctx context.Context, metrics any, correlationID string) (*service.SyncResult, error)
	GetSyncStatus(ctx context.Context, userID, deviceID string) (*store.SyncStatus, error)
	GetLatestRecord(ctx context.Context, userID, deviceID string) (*domain.HealthRecord, error)
	ListRecords(ctx context.Context, userID string, filters *repository.RecordFilters, page, size int) ([]*domain.HealthRecord, int, error)
}

// HealthSyncHandler 健康数据上报处理器
type HealthSyncHandler struct {
	svc    HealthSyncService
	logger *zap.Logger
}

func NewHealthSyncHandler(svc HealthSyncService, logger *zap.Logger) *HealthSyncHandler {
	return &HealthSyncHandler{svc: svc, logger: logger}
}

// syncRequest POST /sync/api/v1/health-metrics 请求体
// Metrics 保持 any：结构性校验（必须是数组）由校验层负责并给出明确消息
type syncRequest struct {
	Metrics       any    `json:"metrics"`
	CorrelationID string `json:"correlationId"`
}

// syncResponse 同步结果响应体
type syncResponse struct {
	Success       bool     `json:"success"`
	SyncedCount   int      `json:"syncedCount"`
	FailedCount   int      `json:"failedCount"`
	DurationMs    int      `json:"durationMs"`
	CorrelationID string   `json:"correlationId"`
	Errors        []string `json:"errors,omitempty"`
}

// UploadHealthMetrics POST /sync/api/v1/health-metrics
//
// 状态码约定：
//   - 200 全量成功
//   - 207 部分成功（syncedCount>0 且 failedCount>0）
//   - 400 校验失败（body 带前 10 条违规明细）
//   - 500 全部失败 / 事务失败 / 意外错误
func (h *HealthSyncHandler) UploadHealthMetrics(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("Failed to read request body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid request: unreadable body"))
		return
	}
	if len(body) == 0 {
		h.logger.Error("Empty request body")
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid request: empty body"))
		return
	}

	var req syncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Error("JSON parsing error", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid JSON format"))
		return
	}

	// 关联 ID：调用方提供或服务端生成，仅用于日志/响应追踪
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = "auto-" + uuid.NewString()
	}

	h.logger.Info("Received health metrics batch",
		zap.String("correlation_id", correlationID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	result, err := h.svc.SyncBatch(ctx, req.Metrics, correlationID)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			details := verr.Details
			if len(details) > maxSurfacedViolations {
				details = details[:maxSurfacedViolations]
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "Validation failed",
				"details": details,
			})
			return
		}

		// 事务级/意外错误：完整细节只进日志，响应保持通用消息
		h.logger.Error("Batch sync failed",
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":         "Database insertion failed",
			"correlationId": correlationID,
		})
		return
	}

	resp := syncResponse{
		Success:       result.Success,
		SyncedCount:   result.SyncedCount,
		FailedCount:   result.FailedCount,
		DurationMs:    int(time.Since(start).Milliseconds()),
		CorrelationID: result.CorrelationID,
		Errors:        result.Errors,
	}

	switch {
	case result.Success:
		writeJSON(w, http.StatusOK, resp)
	case result.Partial():
		writeJSON(w, http.StatusMultiStatus, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// GetLatestRecord GET /sync/api/v1/health-metrics/latest?userId=&deviceId=
func (h *HealthSyncHandler) GetLatestRecord(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	deviceID := r.URL.Query().Get("deviceId")
	if userID == "" || deviceID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("userId and deviceId are required"))
		return
	}

	rec, err := h.svc.GetLatestRecord(r.Context(), userID, deviceID)
	if err != nil {
		h.logger.Error("Failed to get latest record",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody("Internal server error"))
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no records for this user and device"))
		return
	}

	writeJSON(w, http.StatusOK, rec.ToJSON())
}

// ListRecords GET /sync/api/v1/health-metrics/records?userId=&deviceId=&from=&to=&page=&size=
// from/to 为 epoch 毫秒，可省略
func (h *HealthSyncHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("userId is required"))
		return
	}

	filters := &repository.RecordFilters{
		DeviceID: q.Get("deviceId"),
		FromMs:   parseInt64(q.Get("from"), 0),
		ToMs:     parseInt64(q.Get("to"), 0),
	}
	page := parseInt(q.Get("page"), 1)
	size := parseInt(q.Get("size"), 10)

	records, total, err := h.svc.ListRecords(r.Context(), userID, filters, page, size)
	if err != nil {
		h.logger.Error("Failed to list records",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody("Internal server error"))
		return
	}

	items := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.ToJSON())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return i
}

// GetSyncStatus GET /sync/api/v1/sync-status?userId=&deviceId=
func (h *HealthSyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	deviceID := r.URL.Query().Get("deviceId")
	if userID == "" || deviceID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("userId and deviceId are required"))
		return
	}

	status, err := h.svc.GetSyncStatus(r.Context(), userID, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			writeJSON(w, http.StatusNotFound, errorBody("no sync status for this device"))
			return
		}
		h.logger.Error("Failed to get sync status",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody("Internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, status)
}
