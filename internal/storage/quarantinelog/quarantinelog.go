// Пакет quarantinelog — журнал карантина в формате JSON Lines.
// Одна строка — одна запись model.QuarantineEntry. Журнал только дописывается;
// каждая запись сбрасывается на диск (fsync) до возврата из Append.
package quarantinelog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// maxLineSize — предел длины строки журнала при чтении.
const maxLineSize = 1 << 20

// Log — журнал карантина.
type Log struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт журнал по указанному пути. Файл создаётся при первой записи.
func New(path string, logger *slog.Logger) *Log {
	return &Log{
		path:   path,
		logger: logger.With(slog.String("component", "quarantine_log")),
	}
}

// Path возвращает путь файла журнала.
func (l *Log) Path() string {
	return l.path
}

// Append дописывает запись в журнал.
func (l *Log) Append(entry model.QuarantineEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи карантина: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка открытия журнала карантина: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("ошибка записи в журнал карантина: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("ошибка fsync журнала карантина: %w", err)
	}
	return f.Close()
}

// ReadAll читает все записи журнала. Повреждённые строки пропускаются
// с предупреждением. Отсутствующий журнал — пустой результат.
func (l *Log) ReadAll() ([]model.QuarantineEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка открытия журнала карантина: %w", err)
	}
	defer f.Close()

	var entries []model.QuarantineEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry model.QuarantineEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			l.logger.Warn("Повреждённая строка журнала карантина пропущена",
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("ошибка чтения журнала карантина: %w", err)
	}

	return entries, nil
}

// FindByFileID возвращает запись для файла (последнюю, если их несколько).
func (l *Log) FindByFileID(fileID string) (*model.QuarantineEntry, error) {
	entries, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].FileID == fileID {
			entry := entries[i]
			return &entry, nil
		}
	}
	return nil, nil
}
