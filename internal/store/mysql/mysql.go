package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"power-agent/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
	l  *slog.Logger

	stmtInsertTelemetry *sql.Stmt
	stmtLatest          *sql.Stmt
	stmtInsertControl   *sql.Stmt
	stmtRecentControls  *sql.Stmt
}

type Config struct {
	Host, Port, User, Pass, DB string
	MaxOpen, MaxIdle           int
}

func (c Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Pass, c.Host, c.Port, c.DB)
}

func New(cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, l: logger}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepare(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Name() string { return "mysql" }

func (s *Store) Close() {
	for _, st := range []*sql.Stmt{s.stmtInsertTelemetry, s.stmtLatest, s.stmtInsertControl, s.stmtRecentControls} {
		if st != nil {
			_ = st.Close()
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS power_telemetry (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		device_id VARCHAR(64) NOT NULL,
		ts BIGINT NOT NULL,
		battery_percent TINYINT UNSIGNED NOT NULL,
		pack_mv INT NOT NULL,
		ibat_ma INT NOT NULL,
		temp_mc INT NOT NULL,
		harvest_mw INT NOT NULL,
		mode VARCHAR(16) NOT NULL,
		queued INT NOT NULL,
		uptime_s BIGINT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_device_id (device_id, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
	CREATE TABLE IF NOT EXISTS power_controls (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		device_id VARCHAR(64) NOT NULL,
		source VARCHAR(8) NOT NULL,
		payload TEXT NOT NULL,
		error VARCHAR(255) NOT NULL DEFAULT '',
		received_at DATETIME(3) NOT NULL,
		INDEX idx_device_id (device_id, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`)
	return err
}

func (s *Store) prepare() error {
	var err error
	s.stmtInsertTelemetry, err = s.db.Prepare(`
		INSERT INTO power_telemetry
			(device_id, ts, battery_percent, pack_mv, ibat_ma, temp_mc, harvest_mw, mode, queued, uptime_s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	s.stmtLatest, err = s.db.Prepare(`
		SELECT ts, battery_percent, pack_mv, ibat_ma, temp_mc, harvest_mw, mode, queued, uptime_s
		FROM power_telemetry
		WHERE device_id=?
		ORDER BY id DESC
		LIMIT 1`)
	if err != nil {
		return err
	}
	s.stmtInsertControl, err = s.db.Prepare(`
		INSERT INTO power_controls (device_id, source, payload, error, received_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	s.stmtRecentControls, err = s.db.Prepare(`
		SELECT source, payload, error, received_at
		FROM power_controls
		WHERE device_id=?
		ORDER BY id DESC
		LIMIT ?`)
	return err
}

func (s *Store) SaveTelemetry(ctx context.Context, t domain.Telemetry) error {
	_, err := s.stmtInsertTelemetry.ExecContext(ctx, t.DeviceID, t.Timestamp, t.BatteryPercent,
		t.PackMilliV, t.IBatMilliA, t.TempMilliC, t.HarvestMilliW, string(t.Mode), t.Queued, t.UptimeSec)
	return err
}

func (s *Store) Latest(ctx context.Context, deviceID string) (domain.Telemetry, error) {
	t := domain.Telemetry{DeviceID: deviceID}
	var mode string
	err := s.stmtLatest.QueryRowContext(ctx, deviceID).Scan(&t.Timestamp, &t.BatteryPercent,
		&t.PackMilliV, &t.IBatMilliA, &t.TempMilliC, &t.HarvestMilliW, &mode, &t.Queued, &t.UptimeSec)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Telemetry{}, ErrNotFound
	}
	if err != nil {
		return domain.Telemetry{}, err
	}
	t.Mode = domain.Mode(mode)
	return t, nil
}

func (s *Store) SaveControl(ctx context.Context, r domain.ControlRecord) error {
	_, err := s.stmtInsertControl.ExecContext(ctx, r.DeviceID, string(r.Source), r.Payload, truncate(r.Error, 255), r.ReceivedAt.UTC())
	return err
}

func (s *Store) RecentControls(ctx context.Context, deviceID string, limit int) ([]domain.ControlRecord, error) {
	rows, err := s.stmtRecentControls.QueryContext(ctx, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ControlRecord
	for rows.Next() {
		r := domain.ControlRecord{DeviceID: deviceID}
		var src string
		if err := rows.Scan(&src, &r.Payload, &r.Error, &r.ReceivedAt); err != nil {
			return nil, err
		}
		r.Source = domain.ControlSource(src)
		out = append(out, r)
	}
	return out, rows.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
