package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"power-agent/internal/domain"
)

const OnlineZSetKey = "online_devices"

var ErrNotFound = errors.New("not found")

type Store struct {
	rdb       *redis.Client
	l         *slog.Logger
	latestTTL time.Duration
}

type Config struct {
	Addr      string
	DB        int
	LatestTTL time.Duration
}

func New(cfg Config, logger *slog.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Store{rdb: rdb, l: logger, latestTTL: cfg.LatestTTL}, nil
}

func (s *Store) Close() { _ = s.rdb.Close() }

func (s *Store) Name() string { return "redis" }

func LatestKey(deviceID string) string { return "power:" + deviceID + ":latest" }

// SaveTelemetry caches t as the device's latest record and marks it online.
func (s *Store) SaveTelemetry(ctx context.Context, t domain.Telemetry) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, LatestKey(t.DeviceID), b, s.latestTTL)
		p.ZAdd(ctx, OnlineZSetKey, &redis.Z{Score: float64(t.Timestamp), Member: t.DeviceID})
		return nil
	})
	return err
}

func (s *Store) Latest(ctx context.Context, deviceID string) (domain.Telemetry, error) {
	b, err := s.rdb.Get(ctx, LatestKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Telemetry{}, ErrNotFound
	}
	if err != nil {
		return domain.Telemetry{}, err
	}
	var t domain.Telemetry
	if err := json.Unmarshal(b, &t); err != nil {
		return domain.Telemetry{}, err
	}
	return t, nil
}

// Online returns devices seen within the last ttlSeconds.
func (s *Store) Online(ctx context.Context, now int64, ttlSeconds int64) ([]string, error) {
	min := now - ttlSeconds
	_ = s.rdb.ZRemRangeByScore(ctx, OnlineZSetKey, "0", strconv.FormatInt(min-1, 10)).Err()

	return s.rdb.ZRangeByScore(ctx, OnlineZSetKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(min, 10),
		Max: strconv.FormatInt(now, 10),
	}).Result()
}
