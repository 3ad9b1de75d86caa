package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/executor"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/orchestrator"
	"github.com/changrenyuan/laicai-ETH-BTC-OKX/internal/store"
)

// Service 负责持久化执行器生命周期事件与编排器快照。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS executor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	executor_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executor_events_type ON executor_events(event_type);
CREATE INDEX IF NOT EXISTS idx_executor_events_executor ON executor_events(executor_id);
CREATE TABLE IF NOT EXISTS orchestrator_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个执行器事件。
func (s *Service) Record(ctx context.Context, event executor.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executor_events (event_type, executor_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.ExecutorID, string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}
	return nil
}

// RecordSnapshot 写入编排器聚合状态。
func (s *Service) RecordSnapshot(ctx context.Context, status orchestrator.Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("monitor: 序列化快照失败: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orchestrator_snapshots (payload, created_at) VALUES (?, ?)`,
		string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入快照失败: %w", err)
	}
	return nil
}

// Listener 返回可注册到编排器的事件监听器。写入失败只记录日志，
// 不影响执行器自身的状态流转。
func (s *Service) Listener() executor.Listener {
	return func(event executor.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.Record(ctx, event); err != nil {
			s.logger.Warn("持久化执行器事件失败", zap.Error(err))
		}
	}
}
