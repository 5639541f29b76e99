// Package announcer 把事件转换为语音提示，交给 TTS 播放
package announcer

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"wisefido-assist/internal/models"

	"go.uber.org/zap"
)

// 默认播报队列容量与单条播报最长时间
const (
	DefaultQueueSize    = 8
	DefaultSpeakTimeout = 10 * time.Second
)

// Speaker 语音输出
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// LogSpeaker 只写日志（无音频设备时使用）
type LogSpeaker struct {
	logger *zap.Logger
}

// NewLogSpeaker 创建日志播报器
func NewLogSpeaker(logger *zap.Logger) *LogSpeaker {
	return &LogSpeaker{logger: logger}
}

// Speak 记录播报内容
func (s *LogSpeaker) Speak(ctx context.Context, text string) error {
	s.logger.Info("Announcement", zap.String("text", text))
	return nil
}

// CommandSpeaker 调用外部 TTS 命令，文本作为最后一个参数
type CommandSpeaker struct {
	name string
	args []string
}

// NewCommandSpeaker 解析命令行，如 "espeak -s 140"
func NewCommandSpeaker(command string) (*CommandSpeaker, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty speaker command")
	}
	return &CommandSpeaker{name: fields[0], args: fields[1:]}, nil
}

// Speak 执行 TTS 命令并等待其结束
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	args := append(append([]string(nil), s.args...), text)
	out, err := exec.CommandContext(ctx, s.name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("speaker command %s failed: %w (output: %s)", s.name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Phrase 事件对应的播报文本；不需要播报时返回空字符串
func Phrase(evt models.Event) string {
	switch {
	case evt.Fall != nil:
		return "Fall detected! Are you okay?"
	case evt.Distance != nil:
		return evt.Distance.Description
	case evt.Status != nil && evt.Status.Online:
		return fmt.Sprintf("%s sensor is back", sensorLabel(evt.Status.Sensor))
	case evt.Status != nil:
		return fmt.Sprintf("%s sensor is not responding", sensorLabel(evt.Status.Sensor))
	default:
		return ""
	}
}

func sensorLabel(sensor string) string {
	switch sensor {
	case models.SensorIMU:
		return "Motion"
	case models.SensorUltrasonic:
		return "Distance"
	default:
		return sensor
	}
}

// Announcer 异步播报：Handle 只入队，由单独的 goroutine 调用 Speaker
type Announcer struct {
	speaker      Speaker
	speakTimeout time.Duration
	logger       *zap.Logger
	queue        chan string
	wg           sync.WaitGroup
	once         sync.Once
}

// NewAnnouncer 创建播报器并启动播放 goroutine；每条播报最多 speakTimeout
func NewAnnouncer(speaker Speaker, queueSize int, speakTimeout time.Duration, logger *zap.Logger) *Announcer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if speakTimeout <= 0 {
		speakTimeout = DefaultSpeakTimeout
	}
	a := &Announcer{
		speaker:      speaker,
		speakTimeout: speakTimeout,
		logger:       logger,
		queue:        make(chan string, queueSize),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Handle 监测循环处理器；队列满时丢弃，不阻塞分发
func (a *Announcer) Handle(ctx context.Context, evt models.Event) error {
	text := Phrase(evt)
	if text == "" {
		return nil
	}
	select {
	case a.queue <- text:
	default:
		a.logger.Warn("Announcement queue full, dropping",
			zap.String("event", evt.Type),
			zap.String("text", text),
		)
	}
	return nil
}

func (a *Announcer) run() {
	defer a.wg.Done()
	for text := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.speakTimeout)
		err := a.speaker.Speak(ctx, text)
		cancel()
		if err != nil {
			a.logger.Error("Failed to speak announcement", zap.String("text", text), zap.Error(err))
		}
	}
}

// Close 停止接收并等待已入队的播报完成
func (a *Announcer) Close() error {
	a.once.Do(func() {
		close(a.queue)
		a.wg.Wait()
	})
	return nil
}
