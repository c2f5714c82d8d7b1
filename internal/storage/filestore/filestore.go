// Пакет filestore — операции с физическими файлами в корне хранилища.
// Все пути — относительно корня (см. пакет layout).
//
// Запись атомарная: temp файл в temp/ → запись → fsync → rename.
// Удаление идемпотентно: отсутствующий файл не считается ошибкой.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/ingest-module/internal/storage/layout"
)

// ErrNotFound — файл отсутствует на диске.
var ErrNotFound = errors.New("файл не найден")

// FileStore — управление физическими файлами.
type FileStore struct {
	layout *layout.Layout
}

// New создаёт FileStore поверх структуры хранилища.
func New(l *layout.Layout) *FileStore {
	return &FileStore{layout: l}
}

// Save атомарно записывает data в dir/name и возвращает относительный путь.
// Temp файл создаётся в temp/, поэтому rename остаётся в пределах одной ФС.
// При ошибке temp файл удаляется.
func (s *FileStore) Save(dir, name string, data []byte) (string, error) {
	rel := dir + "/" + name
	fullPath := s.layout.Abs(rel)

	f, err := os.CreateTemp(s.layout.Abs(layout.TempDir), "upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return rel, nil
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (s *FileStore) Open(rel string) (*os.File, error) {
	f, err := os.Open(s.layout.Abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", rel, err)
	}
	return f, nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (s *FileStore) FullPath(rel string) string {
	return s.layout.Abs(rel)
}

// Delete удаляет файл. Возвращает nil, если файл уже не существует.
func (s *FileStore) Delete(rel string) error {
	err := os.Remove(s.layout.Abs(rel))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", rel, err)
	}
	return nil
}

// Move перемещает файл src → dst. Если rename невозможен (разные устройства),
// выполняется копирование с fsync и удалением исходного файла.
func (s *FileStore) Move(src, dst string) error {
	srcPath := s.layout.Abs(src)
	dstPath := s.layout.Abs(dst)

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории для %s: %w", dst, err)
	}

	err := os.Rename(srcPath, dstPath)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, src)
	}

	if err := copyFile(srcPath, dstPath); err != nil {
		return fmt.Errorf("ошибка перемещения %s → %s: %w", src, dst, err)
	}
	if err := os.Remove(srcPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("файл скопирован, но исходный %s не удалён: %w", src, err)
	}
	return nil
}

// Exists проверяет существование файла.
func (s *FileStore) Exists(rel string) bool {
	_, err := os.Stat(s.layout.Abs(rel))
	return err == nil
}

// Size возвращает размер файла.
func (s *FileStore) Size(rel string) (int64, error) {
	info, err := os.Stat(s.layout.Abs(rel))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", rel, err)
	}
	return info.Size(), nil
}

// WalkFunc вызывается для каждого обычного файла.
// rel — путь относительно корня хранилища.
type WalkFunc func(rel string, info fs.FileInfo) error

// Walk обходит директорию dir рекурсивно, пропуская dot-файлы и dot-директории.
// Отсутствующая директория не является ошибкой.
func (s *FileStore) Walk(dir string, fn WalkFunc) error {
	root := s.layout.Abs(dir)
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Файл мог быть удалён параллельно — пропускаем
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := s.layout.Rel(path)
		if err != nil {
			return err
		}
		return fn(rel, info)
	})
}

// DirSize возвращает суммарный размер файлов в директории.
func (s *FileStore) DirSize(dir string) (int64, error) {
	var total int64
	err := s.Walk(dir, func(_ string, info fs.FileInfo) error {
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта размера %s: %w", dir, err)
	}
	return total, nil
}

// copyFile копирует файл с fsync результата.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
