package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tblanchard-tessan/mobile-healthhub/internal/domain"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresHealthRecordsRepository 健康数据 Repository 实现
type PostgresHealthRecordsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresHealthRecordsRepository 创建健康数据 Repository
func NewPostgresHealthRecordsRepository(db *sql.DB, logger *zap.Logger) *PostgresHealthRecordsRepository {
	return &PostgresHealthRecordsRepository{db: db, logger: logger}
}

// 确保实现了接口
var _ HealthRecordsRepository = (*PostgresHealthRecordsRepository)(nil)

// upsertHealthRecordSQL 单条原子 upsert
//
// 冲突键即自然键 (user_id, device_id, timestamp, record_hash)：
// 命中时更新全部可变字段，id 与 created_at 不动；
// 未命中时插入新行，id 由 BIGSERIAL 赋值，created_at 由数据库默认值赋值。
// 单条语句保证并发提交同一自然键时不会出现读后写竞态。
const upsertHealthRecordSQL = `
	INSERT INTO health_data (
		user_id, device_id, timestamp,
		heart_rate, bp_systolic, bp_diastolic, spo2,
		steps, calories, distance,
		temperature, blood_glucose,
		total_sleep, deep_sleep, light_sleep,
		stress, met, mai,
		is_wearing, record_hash
	) VALUES (
		$1, $2, $3,
		$4, $5, $6, $7,
		$8, $9, $10,
		$11, $12,
		$13, $14, $15,
		$16, $17, $18,
		$19, $20
	)
	ON CONFLICT (user_id, device_id, timestamp, record_hash) DO UPDATE SET
		heart_rate    = EXCLUDED.heart_rate,
		bp_systolic   = EXCLUDED.bp_systolic,
		bp_diastolic  = EXCLUDED.bp_diastolic,
		spo2          = EXCLUDED.spo2,
		steps         = EXCLUDED.steps,
		calories      = EXCLUDED.calories,
		distance      = EXCLUDED.distance,
		temperature   = EXCLUDED.temperature,
		blood_glucose = EXCLUDED.blood_glucose,
		total_sleep   = EXCLUDED.total_sleep,
		deep_sleep    = EXCLUDED.deep_sleep,
		light_sleep   = EXCLUDED.light_sleep,
		stress        = EXCLUDED.stress,
		met           = EXCLUDED.met,
		mai           = EXCLUDED.mai,
		is_wearing    = EXCLUDED.is_wearing
`

// UpsertBatch 在单个事务内逐条 upsert 整个批次
//
// 单条失败通过 SAVEPOINT 回退后继续处理后续记录（Postgres 中语句失败
// 会中止事务，必须用 savepoint 才能做到逐条容错）；
// commit 失败则整批回滚，逐条计数作废，返回批次级错误。
func (r *PostgresHealthRecordsRepository) UpsertBatch(ctx context.Context, records []*domain.HealthRecord, correlationID string) (*UpsertResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result := &UpsertResult{}

	for i, rec := range records {
		if _, err := tx.ExecContext(ctx, "SAVEPOINT health_record"); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to create savepoint: %w", err)
		}

		_, err := tx.ExecContext(ctx, upsertHealthRecordSQL,
			rec.UserID, rec.DeviceID, rec.Timestamp,
			rec.HeartRate, rec.BPSystolic, rec.BPDiastolic, rec.SpO2,
			rec.Steps, rec.Calories, rec.Distance,
			rec.Temperature, rec.BloodGlucose,
			rec.TotalSleep, rec.DeepSleep, rec.LightSleep,
			rec.Stress, rec.MET, rec.MAI,
			rec.IsWearing, rec.RecordHash,
		)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT health_record"); rbErr != nil {
				_ = tx.Rollback()
				return nil, fmt.Errorf("failed to roll back to savepoint: %w", rbErr)
			}

			result.Failed++
			result.FailedIndexes = append(result.FailedIndexes, i)
			if len(result.Errors) < maxSurfacedErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("Record %d: %s", i, persistErrorMessage(err)))
			}
			r.logger.Error("Record upsert failed",
				zap.String("correlation_id", correlationID),
				zap.Int("record_index", i),
				zap.String("user_id", rec.UserID),
				zap.String("device_id", rec.DeviceID),
				zap.Error(err),
			)
			continue
		}

		result.Synced++
	}

	if err := tx.Commit(); err != nil {
		// 整批回滚，逐条计数全部作废
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to commit health data batch: %w", err)
	}

	result.AllSucceeded = result.Failed == 0

	r.logger.Info("Batch committed",
		zap.String("correlation_id", correlationID),
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

// persistErrorMessage 存储层错误 → 对调用方可见的消息
// pq.Error 只暴露 message，不暴露 SQL/表结构细节
func persistErrorMessage(err error) string {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Message
	}
	return err.Error()
}

const healthRecordColumns = `
	id,
	user_id,
	device_id,
	timestamp,
	heart_rate,
	bp_systolic,
	bp_diastolic,
	spo2,
	steps,
	calories,
	distance,
	temperature,
	blood_glucose,
	total_sleep,
	deep_sleep,
	light_sleep,
	stress,
	met,
	mai,
	is_wearing,
	record_hash,
	created_at
`

// GetLatestRecord 获取 (user_id, device_id) 的最新一条记录
// 不存在时返回 (nil, nil)
func (r *PostgresHealthRecordsRepository) GetLatestRecord(ctx context.Context, userID, deviceID string) (*domain.HealthRecord, error) {
	if userID == "" || deviceID == "" {
		return nil, fmt.Errorf("user_id and device_id are required")
	}

	query := `
		SELECT ` + healthRecordColumns + `
		FROM health_data
		WHERE user_id = $1
		  AND device_id = $2
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	rec, err := scanHealthRecord(r.db.QueryRowContext(ctx, query, userID, deviceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest health record: %w", err)
	}
	return rec, nil
}

// ListRecords 查询用户的健康记录（支持设备/时间过滤与分页）
func (r *PostgresHealthRecordsRepository) ListRecords(ctx context.Context, userID string, filters *RecordFilters, page, size int) ([]*domain.HealthRecord, int, error) {
	if userID == "" {
		return nil, 0, fmt.Errorf("user_id is required")
	}

	where := "WHERE user_id = $1"
	args := []interface{}{userID}
	argN := 2

	if filters != nil {
		if filters.DeviceID != "" {
			where += fmt.Sprintf(" AND device_id = $%d", argN)
			args = append(args, filters.DeviceID)
			argN++
		}
		if filters.FromMs > 0 {
			where += fmt.Sprintf(" AND timestamp >= $%d", argN)
			args = append(args, time.UnixMilli(filters.FromMs).UTC())
			argN++
		}
		if filters.ToMs > 0 {
			where += fmt.Sprintf(" AND timestamp <= $%d", argN)
			args = append(args, time.UnixMilli(filters.ToMs).UTC())
			argN++
		}
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM health_data "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count health records: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 10
	}
	offset := (page - 1) * size

	query := `
		SELECT ` + healthRecordColumns + `
		FROM health_data ` + where + `
		ORDER BY timestamp DESC, id DESC
		LIMIT $` + fmt.Sprintf("%d", argN) + ` OFFSET $` + fmt.Sprintf("%d", argN+1)
	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list health records: %w", err)
	}
	defer rows.Close()

	var records []*domain.HealthRecord
	for rows.Next() {
		rec, err := scanHealthRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan health record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate health records: %w", err)
	}

	return records, total, nil
}

// rowScanner 同时适配 *sql.Row 和 *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHealthRecord(row rowScanner) (*domain.HealthRecord, error) {
	var (
		rec          domain.HealthRecord
		heartRate    sql.NullInt64
		bpSystolic   sql.NullInt64
		bpDiastolic  sql.NullInt64
		spO2         sql.NullInt64
		steps        sql.NullInt64
		calories     sql.NullFloat64
		distance     sql.NullFloat64
		temperature  sql.NullFloat64
		bloodGlucose sql.NullFloat64
		totalSleep   sql.NullInt64
		deepSleep    sql.NullInt64
		lightSleep   sql.NullInt64
		stress       sql.NullInt64
		met          sql.NullFloat64
		mai          sql.NullInt64
	)

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.DeviceID,
		&rec.Timestamp,
		&heartRate,
		&bpSystolic,
		&bpDiastolic,
		&spO2,
		&steps,
		&calories,
		&distance,
		&temperature,
		&bloodGlucose,
		&totalSleep,
		&deepSleep,
		&lightSleep,
		&stress,
		&met,
		&mai,
		&rec.IsWearing,
		&rec.RecordHash,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.HeartRate = nullableInt(heartRate)
	rec.BPSystolic = nullableInt(bpSystolic)
	rec.BPDiastolic = nullableInt(bpDiastolic)
	rec.SpO2 = nullableInt(spO2)
	rec.Steps = nullableInt(steps)
	rec.Calories = nullableFloat(calories)
	rec.Distance = nullableFloat(distance)
	rec.Temperature = nullableFloat(temperature)
	rec.BloodGlucose = nullableFloat(bloodGlucose)
	rec.TotalSleep = nullableInt(totalSleep)
	rec.DeepSleep = nullableInt(deepSleep)
	rec.LightSleep = nullableInt(lightSleep)
	rec.Stress = nullableInt(stress)
	rec.MET = nullableFloat(met)
	rec.MAI = nullableInt(mai)

	return &rec, nil
}

func nullableInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	i := int(n.Int64)
	return &i
}

func nullableFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}
