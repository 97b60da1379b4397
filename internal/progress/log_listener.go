package progress

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogListener 将通知写入 logrus；Progress 按 interval 限频，避免大文件刷屏。
type LogListener struct {
	logger     *logrus.Logger
	repository string
	interval   time.Duration

	mu     sync.Mutex
	lastAt map[string]time.Time
}

// NewLogListener 创建面向某个仓库的日志监听器，interval<=0 时使用 1s。
func NewLogListener(logger *logrus.Logger, repository string, interval time.Duration) *LogListener {
	if interval <= 0 {
		interval = time.Second
	}
	return &LogListener{
		logger:     logger,
		repository: repository,
		interval:   interval,
		lastAt:     make(map[string]time.Time),
	}
}

func (l *LogListener) Started(op Operation) {
	l.fields(op).Debug("transfer_started")
}

func (l *LogListener) Progress(op Operation, transferred int64) {
	key := string(op.Kind) + "::" + op.URI
	now := time.Now()
	l.mu.Lock()
	last, seen := l.lastAt[key]
	if seen && now.Sub(last) < l.interval {
		l.mu.Unlock()
		return
	}
	l.lastAt[key] = now
	l.mu.Unlock()

	l.fields(op).WithField("transferred", transferred).Debug("transfer_progress")
}

func (l *LogListener) Completed(op Operation, transferred int64, err error) {
	l.mu.Lock()
	delete(l.lastAt, string(op.Kind)+"::"+op.URI)
	l.mu.Unlock()

	entry := l.fields(op).WithFields(logrus.Fields{
		"transferred": transferred,
		"elapsed_ms":  time.Since(op.Started).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("transfer_failed")
		return
	}
	entry.Info("transfer_complete")
}

func (l *LogListener) fields(op Operation) *logrus.Entry {
	fields := logrus.Fields{
		"action":     "transfer",
		"repository": l.repository,
		"kind":       string(op.Kind),
		"uri":        op.URI,
	}
	if op.Size >= 0 {
		fields["size"] = op.Size
	}
	return l.logger.WithFields(fields)
}
