package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const fileRepositoryCap = 512

// FileRepository 以 JSON Lines 追加写的方式保存记录，并在内存中保留最近的记录。
type FileRepository struct {
	mu       sync.RWMutex
	dataFile string
	turns    []Turn // 最新的在前
	seen     map[string]struct{}
}

// NewFileRepository 创建文件仓储，dataDir 为空时使用当前目录。
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &FileRepository{
		dataFile: filepath.Join(dataDir, "turns.log"),
		seen:     make(map[string]struct{}),
	}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 追加一条记录，重复的 ID 会被忽略。
func (f *FileRepository) Save(_ context.Context, turn Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[turn.ID]; ok {
		return nil
	}

	file, err := os.OpenFile(f.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开会话日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("序列化会话记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入会话日志失败: %w", err)
	}
	f.remember(turn)
	return nil
}

// ListByUser 返回用户最近的记录，按时间倒序排列。
func (f *FileRepository) ListByUser(_ context.Context, userID string, limit int) ([]Turn, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var out []Turn
	for _, turn := range f.turns {
		if turn.UserID != userID {
			continue
		}
		out = append(out, turn)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close 文件在每次写入后已关闭。
func (f *FileRepository) Close() error { return nil }

func (f *FileRepository) remember(turn Turn) {
	f.turns = append([]Turn{turn}, f.turns...)
	f.seen[turn.ID] = struct{}{}
	if len(f.turns) > fileRepositoryCap {
		for _, dropped := range f.turns[fileRepositoryCap:] {
			delete(f.seen, dropped.ID)
		}
		f.turns = f.turns[:fileRepositoryCap]
	}
}

func (f *FileRepository) loadFromDisk() error {
	file, err := os.OpenFile(f.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取会话日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var turn Turn
		if err := json.Unmarshal(scanner.Bytes(), &turn); err != nil {
			continue
		}
		f.remember(turn)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析会话日志失败: %w", err)
	}
	return nil
}

var _ Repository = (*FileRepository)(nil)
