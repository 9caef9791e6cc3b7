// Package transformer 提供数据归一化功能
//
// 将上报的原始 JSON 记录转换为 domain.HealthRecord：
// - epoch 毫秒时间戳 → UTC time.Time（保留毫秒精度）
// - 缺失的可选字段 → nil（缺失表示"未测量"，绝不写 0）
// - isWearing 缺省时默认 true
package transformer

import (
	"fmt"
	"math"
	"time"

	"github.com/Tblanchard-tessan/mobile-healthhub/internal/domain"

	"go.uber.org/zap"
)

// NormalizationError 归一化契约错误
// 校验通过的记录不应再出现该错误，出现即为编程错误而非数据问题
type NormalizationError struct {
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization contract violation on %s: %s", e.Field, e.Reason)
}

// HealthTransformer 健康数据归一化器
type HealthTransformer struct {
	logger *zap.Logger
}

// NewHealthTransformer 创建健康数据归一化器
func NewHealthTransformer(logger *zap.Logger) *HealthTransformer {
	return &HealthTransformer{logger: logger}
}

// Transform 将原始记录转换为规范存储模型
//
// 纯函数、确定性：同一输入必得同一输出。
// 仅当 timestamp 无法转换为时间时返回 *NormalizationError。
func (t *HealthTransformer) Transform(metric map[string]any) (*domain.HealthRecord, error) {
	ms, ok := asNumber(metric["timestamp"])
	if !ok || ms <= 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		t.logger.Error("Timestamp normalization failed",
			zap.Any("timestamp", metric["timestamp"]),
		)
		return nil, &NormalizationError{Field: "timestamp", Reason: "not convertible to an instant"}
	}
	// int64 转换前必须限界：超范围的 float64 会溢出成垃圾时刻
	if ms > domain.MaxEpochMillis {
		t.logger.Error("Timestamp exceeds representable range",
			zap.Float64("timestamp", ms),
		)
		return nil, &NormalizationError{Field: "timestamp", Reason: "exceeds representable range"}
	}
	millis := int64(ms)

	rec := &domain.HealthRecord{
		UserID:   stringField(metric, "userId"),
		DeviceID: stringField(metric, "deviceId"),
		// 毫秒级 epoch → UTC，纳秒部分只保留毫秒精度
		Timestamp:  time.Unix(millis/1000, (millis%1000)*int64(time.Millisecond)).UTC(),
		RecordHash: stringField(metric, "recordHash"),
		IsWearing:  true,
	}

	rec.HeartRate = intField(metric, "heartRate")
	rec.BPSystolic = intField(metric, "bpSystolic")
	rec.BPDiastolic = intField(metric, "bpDiastolic")
	rec.SpO2 = intField(metric, "spO2")
	rec.Steps = intField(metric, "steps")
	rec.Calories = floatField(metric, "calories")
	rec.Distance = floatField(metric, "distance")
	rec.Temperature = floatField(metric, "temperature")
	rec.BloodGlucose = floatField(metric, "bloodGlucose")
	rec.TotalSleep = intField(metric, "totalSleep")
	rec.DeepSleep = intField(metric, "deepSleep")
	rec.LightSleep = intField(metric, "lightSleep")
	rec.Stress = intField(metric, "stress")
	rec.MET = floatField(metric, "met")
	rec.MAI = intField(metric, "mai")

	if v, present := metric["isWearing"]; present {
		if b, ok := v.(bool); ok {
			rec.IsWearing = b
		}
	}

	return rec, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField 读取可选整数字段，缺失或 null 返回 nil
func intField(m map[string]any, key string) *int {
	v, present := m[key]
	if !present || v == nil {
		return nil
	}
	n, ok := asNumber(v)
	if !ok {
		return nil
	}
	i := int(n)
	return &i
}

// floatField 读取可选浮点字段，缺失或 null 返回 nil
func floatField(m map[string]any, key string) *float64 {
	v, present := m[key]
	if !present || v == nil {
		return nil
	}
	n, ok := asNumber(v)
	if !ok {
		return nil
	}
	return &n
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
