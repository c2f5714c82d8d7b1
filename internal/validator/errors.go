package validator

import "fmt"

// Kind — класс ошибки валидации.
type Kind string

const (
	// KindSizeExceeded — размер превышает предел
	KindSizeExceeded Kind = "size_exceeded"
	// KindUnsupportedType — тип содержимого не распознан
	KindUnsupportedType Kind = "unsupported_type"
	// KindTypeNotAllowed — тип распознан, но отсутствует в allow-list
	KindTypeNotAllowed Kind = "type_not_allowed"
	// KindTypeMismatch — расширение не соответствует обнаруженному типу
	KindTypeMismatch Kind = "type_mismatch"
)

// Error — ошибка валидации загружаемого файла.
// Ошибки валидации видны вызывающей стороне и не имеют побочных эффектов.
type Error struct {
	Kind    Kind
	Message string
	// DetectedMIME — обнаруженный тип (для not_allowed и mismatch)
	DetectedMIME string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is сравнивает ошибки по классу. ErrUnsupportedType также совпадает
// с KindTypeNotAllowed: неразрешённый тип — частный случай неподдерживаемого.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindUnsupportedType && e.Kind == KindTypeNotAllowed
}

// Sentinel-ошибки для errors.Is.
var (
	ErrSizeExceeded    = &Error{Kind: KindSizeExceeded, Message: "размер файла превышает допустимый"}
	ErrUnsupportedType = &Error{Kind: KindUnsupportedType, Message: "тип файла не поддерживается"}
	ErrTypeNotAllowed  = &Error{Kind: KindTypeNotAllowed, Message: "тип файла не разрешён"}
	ErrTypeMismatch    = &Error{Kind: KindTypeMismatch, Message: "расширение не соответствует содержимому"}
)
