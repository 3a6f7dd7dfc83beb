package domain

import "errors"

// Виды ошибок, которые переживают обёртку через fmt.Errorf("%w: ...").
// Граница (HTTP) сопоставляет их со статусами ответа.
var (
	// ErrValidation: отсутствуют или некорректны обязательные параметры.
	ErrValidation = errors.New("некорректные данные")
	// ErrNotFound: указанный факт, категория или пользователь не существует.
	ErrNotFound = errors.New("не найдено")
	// ErrConflict: нарушено ограничение уникальности или ссылочной целостности.
	ErrConflict = errors.New("конфликт")
	// ErrInternal: непредвиденный сбой хранилища.
	ErrInternal = errors.New("внутренняя ошибка")
)
