package domain

import "time"

// MaxEpochMillis 时间戳上限：9999-12-31T23:59:59.999Z 的 epoch 毫秒
// 超出该值的数值无法安全转换为 time.Time，校验与归一化都据此拒绝
const MaxEpochMillis = 253402300799999

// HealthRecord 健康数据领域模型（对应 health_data 表）
// 存储智能手表等可穿戴设备上报的健康读数
//
// 自然键: (user_id, device_id, timestamp, record_hash)
// 同一自然键重复上报时更新所有可变字段；record_hash 不同视为独立版本行
type HealthRecord struct {
	// 主键
	ID int64 `db:"id"` // BIGSERIAL

	// 标识（匿名化，GDPR 合规）
	UserID   string `db:"user_id"`   // VARCHAR(100), NOT NULL
	DeviceID string `db:"device_id"` // VARCHAR(50), NOT NULL

	// 时间戳（毫秒精度）
	Timestamp time.Time `db:"timestamp"` // TIMESTAMPTZ, NOT NULL

	// 心血管指标
	HeartRate   *int `db:"heart_rate"`   // INTEGER, nullable, bpm
	BPSystolic  *int `db:"bp_systolic"`  // INTEGER, nullable, mmHg
	BPDiastolic *int `db:"bp_diastolic"` // INTEGER, nullable, mmHg
	SpO2        *int `db:"spo2"`         // INTEGER, nullable, %

	// 活动指标
	Steps    *int     `db:"steps"`    // INTEGER, nullable
	Calories *float64 `db:"calories"` // NUMERIC, nullable
	Distance *float64 `db:"distance"` // NUMERIC, nullable

	// 代谢健康
	Temperature  *float64 `db:"temperature"`   // NUMERIC, nullable, °C
	BloodGlucose *float64 `db:"blood_glucose"` // NUMERIC, nullable

	// 睡眠（分钟）
	TotalSleep *int `db:"total_sleep"` // INTEGER, nullable
	DeepSleep  *int `db:"deep_sleep"`  // INTEGER, nullable
	LightSleep *int `db:"light_sleep"` // INTEGER, nullable

	// 衍生指标
	Stress *int     `db:"stress"` // INTEGER, nullable, 0-100
	MET    *float64 `db:"met"`    // NUMERIC, nullable, 0.0-20.0
	MAI    *int     `db:"mai"`    // INTEGER, nullable, 0-100

	// 设备状态
	IsWearing bool `db:"is_wearing"` // BOOLEAN, NOT NULL DEFAULT TRUE

	// 审计与去重
	RecordHash string    `db:"record_hash"` // VARCHAR(64), NOT NULL
	CreatedAt  time.Time `db:"created_at"`  // TIMESTAMPTZ, 首次插入时由数据库赋值，更新时不变
}

// ToJSON 转换为前端使用的 camelCase JSON 形式
// timestamp 以 epoch 毫秒返回，createdAt 以 ISO-8601 返回
func (r *HealthRecord) ToJSON() map[string]any {
	m := map[string]any{
		"id":         r.ID,
		"userId":     r.UserID,
		"deviceId":   r.DeviceID,
		"timestamp":  r.Timestamp.UnixMilli(),
		"isWearing":  r.IsWearing,
		"recordHash": r.RecordHash,
	}
	if !r.CreatedAt.IsZero() {
		m["createdAt"] = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	if r.HeartRate != nil {
		m["heartRate"] = *r.HeartRate
	}
	if r.BPSystolic != nil {
		m["bpSystolic"] = *r.BPSystolic
	}
	if r.BPDiastolic != nil {
		m["bpDiastolic"] = *r.BPDiastolic
	}
	if r.SpO2 != nil {
		m["spO2"] = *r.SpO2
	}
	if r.Steps != nil {
		m["steps"] = *r.Steps
	}
	if r.Calories != nil {
		m["calories"] = *r.Calories
	}
	if r.Distance != nil {
		m["distance"] = *r.Distance
	}
	if r.Temperature != nil {
		m["temperature"] = *r.Temperature
	}
	if r.BloodGlucose != nil {
		m["bloodGlucose"] = *r.BloodGlucose
	}
	if r.TotalSleep != nil {
		m["totalSleep"] = *r.TotalSleep
	}
	if r.DeepSleep != nil {
		m["deepSleep"] = *r.DeepSleep
	}
	if r.LightSleep != nil {
		m["lightSleep"] = *r.LightSleep
	}
	if r.Stress != nil {
		m["stress"] = *r.Stress
	}
	if r.MET != nil {
		m["met"] = *r.MET
	}
	if r.MAI != nil {
		m["mai"] = *r.MAI
	}
	return m
}
