package validator

import (
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// maxStoredNameLen — предел длины имени на диске (байты).
	maxStoredNameLen = 255
	// maxBaseRunes — предел длины очищенного базового имени (символы).
	maxBaseRunes = 100
	// maxExtLen — предел длины расширения.
	maxExtLen = 16
	// fallbackBase — имя, если после очистки ничего не осталось.
	fallbackBase = "file"
)

// GenerateStorageName формирует безопасное уникальное имя файла:
// <unix-миллисекунды>_<8 hex случайных>_<очищенное имя><расширение>.
// random — источник случайности (crypto/rand.Reader в рабочем коде).
func GenerateStorageName(original string, now time.Time, random io.Reader) (string, error) {
	token := make([]byte, 4)
	if _, err := io.ReadFull(random, token); err != nil {
		return "", fmt.Errorf("ошибка генерации случайного токена: %w", err)
	}

	// Отбрасываем путь, в том числе в нотации Windows
	name := original
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	ext := sanitizeExt(filepath.Ext(name))
	base := SanitizeBase(strings.TrimSuffix(name, filepath.Ext(name)))

	prefix := fmt.Sprintf("%d_%s_", now.UnixMilli(), hex.EncodeToString(token))
	if over := len(prefix) + len(base) + len(ext) - maxStoredNameLen; over > 0 {
		base = truncateBytes(base, len(base)-over)
		if base == "" {
			base = fallbackBase
		}
	}

	return prefix + base + ext, nil
}

// SanitizeBase очищает базовое имя: убирает управляющие символы,
// заменяет опасные символы на '_', схлопывает пробелы, ограничивает длину.
func SanitizeBase(s string) string {
	var b strings.Builder
	lastUnderscore := false
	runes := 0

	for _, r := range s {
		if runes >= maxBaseRunes {
			break
		}
		switch {
		case unicode.IsSpace(r), strings.ContainsRune(`/\?%*:|"<>'`+"`", r):
			if lastUnderscore {
				continue
			}
			b.WriteByte('_')
			lastUnderscore = true
		case r == utf8.RuneError, unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
			lastUnderscore = false
		}
		runes++
	}

	result := strings.Trim(b.String(), "._")
	if result == "" {
		return fallbackBase
	}
	return result
}

// sanitizeExt оставляет в расширении только латиницу и цифры.
func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	var b strings.Builder
	b.WriteByte('.')
	for _, r := range strings.ToLower(ext[1:]) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 {
		return ""
	}
	if b.Len() > maxExtLen {
		return b.String()[:maxExtLen]
	}
	return b.String()
}

// truncateBytes обрезает строку до n байт по границе символа.
func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
