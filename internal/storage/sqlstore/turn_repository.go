package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	xerrors "NeoLink-Agent/internal/errors"
	"NeoLink-Agent/internal/journal"
	"NeoLink-Agent/pkg/logger"
)

const defaultListLimit = 20

// TurnRepository 将会话记录写入 MySQL 或 SQLite。
type TurnRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTurnRepository 建立连接池并执行嵌入的迁移。
func NewTurnRepository(ctx context.Context, cfg Config) (*TurnRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化会话记录仓储失败")
	}
	repo := &TurnRepository{db: db, logger: logger.Named("sqlstore")}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return repo, nil
}

// Save 写入一条记录，重复投递的同一条记录只保存一次。
func (s *TurnRepository) Save(ctx context.Context, turn journal.Turn) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversation_turns WHERE id = ?`, turn.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("查询会话记录失败: %w", err)
	}
	if exists > 0 {
		return nil
	}

	const stmt = `INSERT INTO conversation_turns
        (id, user_id, message, intent, reply, error_code, latency_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		turn.ID,
		turn.UserID,
		turn.Text,
		turn.Intent,
		turn.Reply,
		turn.ErrorCode,
		turn.LatencyMS,
		turn.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("写入会话记录失败: %w", err)
	}
	return nil
}

// ListByUser 按时间倒序返回用户最近的记录。
func (s *TurnRepository) ListByUser(ctx context.Context, userID string, limit int) ([]journal.Turn, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, message, intent, reply, error_code, latency_ms, created_at
        FROM conversation_turns WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询会话记录失败: %w", err)
	}
	defer rows.Close()

	var turns []journal.Turn
	for rows.Next() {
		var (
			turn      journal.Turn
			createdAt int64
		)
		if err := rows.Scan(&turn.ID, &turn.UserID, &turn.Text, &turn.Intent, &turn.Reply, &turn.ErrorCode, &turn.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("解析会话记录失败: %w", err)
		}
		turn.CreatedAt = time.UnixMilli(createdAt).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历会话记录失败: %w", err)
	}
	return turns, nil
}

// Close 关闭底层数据库连接。
func (s *TurnRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ journal.Repository = (*TurnRepository)(nil)
