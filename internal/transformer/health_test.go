package transformer

import (
	"math"
	"testing"
	"time"

	"github.com/Tblanchard-tessan/mobile-healthhub/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTransformer() *HealthTransformer {
	return NewHealthTransformer(zap.NewNop())
}

func TestTransform_FullRecord(t *testing.T) {
	tr := newTransformer()

	rec, err := tr.Transform(map[string]any{
		"userId":       "u1",
		"deviceId":     "d1",
		"timestamp":    float64(1704067200000), // 2024-01-01T00:00:00Z
		"heartRate":    float64(72),
		"bpSystolic":   float64(120),
		"bpDiastolic":  float64(80),
		"spO2":         float64(98),
		"steps":        float64(1250),
		"calories":     float64(85),
		"distance":     float64(950),
		"temperature":  36.8,
		"bloodGlucose": 100.5,
		"totalSleep":   float64(480),
		"deepSleep":    float64(120),
		"lightSleep":   float64(360),
		"stress":       float64(25),
		"met":          1.2,
		"mai":          float64(65),
		"isWearing":    false,
		"recordHash":   "h1",
	})
	require.NoError(t, err)

	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "d1", rec.DeviceID)
	assert.Equal(t, "h1", rec.RecordHash)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rec.Timestamp)

	require.NotNil(t, rec.HeartRate)
	assert.Equal(t, 72, *rec.HeartRate)
	require.NotNil(t, rec.Temperature)
	assert.InDelta(t, 36.8, *rec.Temperature, 1e-9)
	require.NotNil(t, rec.MET)
	assert.InDelta(t, 1.2, *rec.MET, 1e-9)
	require.NotNil(t, rec.Steps)
	assert.Equal(t, 1250, *rec.Steps)
	assert.False(t, rec.IsWearing)
}

// TestTransform_MillisecondPrecision 毫秒部分必须保留
func TestTransform_MillisecondPrecision(t *testing.T) {
	tr := newTransformer()

	rec, err := tr.Transform(map[string]any{
		"userId":     "u1",
		"deviceId":   "d1",
		"timestamp":  float64(1704067200123),
		"recordHash": "h1",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 123e6, time.UTC), rec.Timestamp)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
}

// TestTransform_MissingOptionalFieldsAreNil 缺失表示"未测量"，绝不映射为 0
func TestTransform_MissingOptionalFieldsAreNil(t *testing.T) {
	tr := newTransformer()

	rec, err := tr.Transform(map[string]any{
		"userId":     "u1",
		"deviceId":   "d1",
		"timestamp":  float64(1704067200000),
		"recordHash": "h1",
	})
	require.NoError(t, err)

	assert.Nil(t, rec.HeartRate)
	assert.Nil(t, rec.BPSystolic)
	assert.Nil(t, rec.BPDiastolic)
	assert.Nil(t, rec.SpO2)
	assert.Nil(t, rec.Steps)
	assert.Nil(t, rec.Calories)
	assert.Nil(t, rec.Distance)
	assert.Nil(t, rec.Temperature)
	assert.Nil(t, rec.BloodGlucose)
	assert.Nil(t, rec.TotalSleep)
	assert.Nil(t, rec.DeepSleep)
	assert.Nil(t, rec.LightSleep)
	assert.Nil(t, rec.Stress)
	assert.Nil(t, rec.MET)
	assert.Nil(t, rec.MAI)

	// isWearing 缺省时默认 true
	assert.True(t, rec.IsWearing)
}

func TestTransform_NullFieldsAreNil(t *testing.T) {
	tr := newTransformer()

	rec, err := tr.Transform(map[string]any{
		"userId":     "u1",
		"deviceId":   "d1",
		"timestamp":  float64(1704067200000),
		"recordHash": "h1",
		"heartRate":  nil,
		"calories":   nil,
	})
	require.NoError(t, err)
	assert.Nil(t, rec.HeartRate)
	assert.Nil(t, rec.Calories)
}

func TestTransform_InvalidTimestamp(t *testing.T) {
	tr := newTransformer()

	cases := []any{nil, "not-a-number", float64(0), float64(-5)}
	for _, ts := range cases {
		_, err := tr.Transform(map[string]any{
			"userId":     "u1",
			"deviceId":   "d1",
			"timestamp":  ts,
			"recordHash": "h1",
		})
		require.Error(t, err, "timestamp=%v", ts)

		var nerr *NormalizationError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "timestamp", nerr.Field)
	}
}

// TestTransform_TimestampOverflow 超范围的 float64 绝不能溢出成垃圾时刻
// 上限本身（9999-12-31T23:59:59.999Z）仍可转换
func TestTransform_TimestampOverflow(t *testing.T) {
	tr := newTransformer()

	for _, ts := range []float64{float64(domain.MaxEpochMillis) + 1, 1e300, math.MaxFloat64} {
		_, err := tr.Transform(map[string]any{
			"userId":     "u1",
			"deviceId":   "d1",
			"timestamp":  ts,
			"recordHash": "h1",
		})
		require.Error(t, err, "timestamp=%v", ts)

		var nerr *NormalizationError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "timestamp", nerr.Field)
	}

	rec, err := tr.Transform(map[string]any{
		"userId":     "u1",
		"deviceId":   "d1",
		"timestamp":  float64(domain.MaxEpochMillis),
		"recordHash": "h1",
	})
	require.NoError(t, err)
	assert.Equal(t, 9999, rec.Timestamp.Year())
}

// TestTransform_Deterministic 同一输入必须产生同一输出
func TestTransform_Deterministic(t *testing.T) {
	tr := newTransformer()
	in := map[string]any{
		"userId":     "u1",
		"deviceId":   "d1",
		"timestamp":  float64(1704067200500),
		"heartRate":  float64(64),
		"recordHash": "h1",
	}

	a, err := tr.Transform(in)
	require.NoError(t, err)
	b, err := tr.Transform(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
