// Package validator 健康数据校验
//
// 对上报的原始 JSON 记录做生理范围与结构校验：
// - 必填字段：userId / deviceId / recordHash / timestamp
// - 生理范围：心率、血压、血氧、体温、血糖等
// - 批次门禁：非数组、空批次、超过 500 条整批拒绝
//
// 校验在持久化之前运行，任何一条字段级违规都会拒绝整个批次
// （持久化阶段对存储层错误才是逐条容错的）
package validator

import (
	"fmt"
	"math"

	"github.com/Tblanchard-tessan/mobile-healthhub/internal/domain"
)

// MaxBatchSize 单批次最大记录数
const MaxBatchSize = 500

// numericRange 数值范围规则（闭区间）
type numericRange struct {
	field   string
	min     float64
	max     float64
	integer bool   // true 时要求整数值
	unit    string // 错误消息中的单位说明
}

// physiologicalRanges 生理与活动指标的合法范围
// 来自医疗团队确认的可穿戴设备量程
var physiologicalRanges = []numericRange{
	{field: "heartRate", min: 30, max: 220, unit: "30-220 bpm"},
	{field: "bpSystolic", min: 60, max: 280, unit: "60-280 mmHg"},
	{field: "bpDiastolic", min: 30, max: 150, unit: "30-150 mmHg"},
	{field: "spO2", min: 70, max: 100, unit: "70-100%"},
	{field: "temperature", min: 35.0, max: 41.0, unit: "35.0-41.0°C"},
	{field: "bloodGlucose", min: 50, max: 500, unit: "50-500"},
	{field: "totalSleep", min: 0, max: 1440, integer: true, unit: "0-1440 minutes"},
	{field: "deepSleep", min: 0, max: 1440, integer: true, unit: "0-1440 minutes"},
	{field: "lightSleep", min: 0, max: 1440, integer: true, unit: "0-1440 minutes"},
	{field: "stress", min: 0, max: 100, integer: true, unit: "0-100"},
	{field: "met", min: 0.0, max: 20.0, unit: "0.0-20.0"},
	{field: "mai", min: 0, max: 100, integer: true, unit: "0-100"},
}

// nonNegativeFields 只要求非负的活动指标
var nonNegativeFields = []struct {
	field   string
	integer bool
}{
	{field: "steps", integer: true},
	{field: "calories"},
	{field: "distance"},
}

// ValidateMetric 校验单条健康记录，返回全部违规消息（合法时为空）
// index 为记录在批次中的下标，用于错误归属
//
// 该函数永不 panic，也不短路：一条记录的所有问题一次性收集
func ValidateMetric(metric map[string]any, index int) []string {
	var errs []string

	// === 必填字段 ===
	if s, _ := metric["userId"].(string); s == "" {
		errs = append(errs, fmt.Sprintf("Record %d: userId is required", index))
	}
	if s, _ := metric["deviceId"].(string); s == "" {
		errs = append(errs, fmt.Sprintf("Record %d: deviceId is required", index))
	}
	if ts, ok := asNumber(metric["timestamp"]); !ok || math.IsNaN(ts) || ts <= 0 {
		errs = append(errs, fmt.Sprintf("Record %d: invalid timestamp (must be positive)", index))
	} else if ts > domain.MaxEpochMillis {
		// 超出可表示范围的 float64 在 int64 转换时会溢出成垃圾时刻
		errs = append(errs, fmt.Sprintf("Record %d: invalid timestamp (exceeds representable range)", index))
	}
	if s, _ := metric["recordHash"].(string); s == "" {
		errs = append(errs, fmt.Sprintf("Record %d: recordHash is required for deduplication", index))
	}

	// === 生理范围 ===
	for _, r := range physiologicalRanges {
		v, present := metric[r.field]
		if !present || v == nil {
			continue
		}
		n, ok := asNumber(v)
		if !ok || (r.integer && !isIntegral(n)) {
			errs = append(errs, typeViolation(index, r.field, r.integer))
			continue
		}
		if n < r.min || n > r.max {
			errs = append(errs, fmt.Sprintf("Record %d: %s out of range (%s)", index, r.field, r.unit))
		}
	}

	// === 活动指标（仅非负约束）===
	for _, f := range nonNegativeFields {
		v, present := metric[f.field]
		if !present || v == nil {
			continue
		}
		n, ok := asNumber(v)
		if !ok || (f.integer && !isIntegral(n)) {
			errs = append(errs, typeViolation(index, f.field, f.integer))
			continue
		}
		if n < 0 {
			errs = append(errs, fmt.Sprintf("Record %d: %s cannot be negative", index, f.field))
		}
	}

	// isWearing 只做类型检查
	if v, present := metric["isWearing"]; present {
		if _, ok := v.(bool); !ok {
			errs = append(errs, fmt.Sprintf("Record %d: isWearing must be boolean", index))
		}
	}

	return errs
}

// ValidateBatch 校验整个批次
//
// 结构性失败（非数组/空/超限/元素非对象）整批拒绝；
// 否则逐条运行 ValidateMetric 并按下标归属违规。
// 返回 (是否通过, 违规列表)
func ValidateBatch(metrics any) (bool, []string) {
	if metrics == nil {
		return false, []string{"metrics array cannot be empty"}
	}

	list, ok := metrics.([]any)
	if !ok {
		return false, []string{"metrics must be an array"}
	}

	if len(list) == 0 {
		return false, []string{"metrics array cannot be empty"}
	}

	if len(list) > MaxBatchSize {
		return false, []string{fmt.Sprintf("batch size %d exceeds maximum of %d", len(list), MaxBatchSize)}
	}

	var all []string
	for i, elem := range list {
		m, ok := elem.(map[string]any)
		if !ok {
			all = append(all, fmt.Sprintf("Record %d: must be a JSON object", i))
			continue
		}
		all = append(all, ValidateMetric(m, i)...)
	}

	return len(all) == 0, all
}

func typeViolation(index int, field string, integer bool) string {
	if integer {
		return fmt.Sprintf("Record %d: %s must be integer", index, field)
	}
	return fmt.Sprintf("Record %d: %s must be numeric", index, field)
}

// asNumber 将 encoding/json 解码出的数值统一为 float64
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

// isIntegral 判断 JSON 数值是否为整数值
// encoding/json 将所有数值解码为 float64，整数字段据此判别
func isIntegral(n float64) bool {
	return n == math.Trunc(n) && !math.IsInf(n, 0)
}
