// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrAlreadySigned — документ уже полностью подписан.
	ErrAlreadySigned = errors.New("документ уже подписан")
	// ErrAlreadyReverted — подпись уже отозвана.
	ErrAlreadyReverted = errors.New("подпись уже отозвана")
	// ErrAlreadyReplayed — задача уже повторно поставлена в очередь.
	ErrAlreadyReplayed = errors.New("задача уже перезапущена")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)
