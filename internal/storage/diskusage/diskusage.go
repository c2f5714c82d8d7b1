// Пакет diskusage — получение информации о заполнении файловой системы.
// Платформозависимый код для Unix-подобных систем.
package diskusage

import (
	"fmt"
	"syscall"
)

// Usage — ёмкость файловой системы в байтах.
type Usage struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

// Ratio возвращает долю занятого места (0..1).
func (u Usage) Ratio() float64 {
	if u.Total <= 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Total)
}

// Sampler — источник данных о заполнении диска (подменяется в тестах).
type Sampler func(path string) (Usage, error)

// Sample возвращает информацию о дисковом пространстве для path.
func Sample(path string) (Usage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return Usage{}, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)

	return Usage{
		Total:     total,
		Used:      total - available,
		Available: available,
	}, nil
}
