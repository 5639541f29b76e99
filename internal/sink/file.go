package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"wisefido-assist/internal/models"

	"go.uber.org/zap"
)

// FileSink 追加写入的 JSONL 事件日志，每个事件一行
//
// 不轮转，不做跨进程加锁；同一进程内由互斥锁保证整行写入。
type FileSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *zap.Logger
}

// NewFileSink 打开（必要时创建）事件日志文件
func NewFileSink(path string, logger *zap.Logger) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create event log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log file: %w", err)
	}

	logger.Info("Event log opened", zap.String("path", path))

	return &FileSink{
		path:   path,
		file:   file,
		logger: logger,
	}, nil
}

// Name 名称
func (s *FileSink) Name() string {
	return "event_log"
}

// Path 文件路径
func (s *FileSink) Path() string {
	return s.path
}

// Write 写入一行事件记录
func (s *FileSink) Write(ctx context.Context, evt models.Event) error {
	data, err := encodeRecord(evt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("event log %s is closed", s.path)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event log: %w", err)
	}
	return nil
}

// Close 关闭文件
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
