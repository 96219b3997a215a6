// Пакет validation — HTTP-клиент к внешнему сервису валидации электронных подписей.
// models.go — модели запросов и ответов сервиса.
package validation

import (
	"errors"
	"time"
)

// Ошибки клиента сервиса валидации.
var (
	// ErrServiceUnavailable — не удалось установить соединение с сервисом.
	ErrServiceUnavailable = errors.New("сервис валидации недоступен")
	// ErrTransport — прочие ошибки обмена с сервисом (неожиданный статус, некорректный ответ).
	ErrTransport = errors.New("ошибка обмена с сервисом валидации")
	// ErrNoSignaturesFound — сервис ответил успешно, но подписи в документе не найдены.
	ErrNoSignaturesFound = errors.New("в документе не найдено ни одной подписи")
)

// RemoteError — сервис вернул структурированную ошибку.
// Message передаётся вызывающему без изменений.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Result — отчёт сервиса о валидации документа.
type Result struct {
	// Result — итог проверки в формулировке сервиса (например, "VÁLIDO")
	Result string `json:"result"`
	// Signatures — число найденных подписей
	Signatures int `json:"signatures"`
	// ValidSignatures — число валидных подписей
	ValidSignatures int `json:"validSignatures"`
	// Integrity — документ не изменён после подписания
	Integrity bool `json:"integrity"`
	// Observations — замечания сервиса
	Observations []string `json:"observations"`
	// TrustedSignatures — число подписей с доверенной цепочкой сертификатов
	TrustedSignatures int `json:"trustedSignatures"`
	// ListSignatures — сведения о каждой подписи
	ListSignatures []SignatureEntry `json:"listSignatures"`
	// ErrorMessage — текст ошибки, если проверка не выполнена
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Valid сообщает, что все найденные подписи валидны и документ цел.
func (r *Result) Valid() bool {
	return r.Integrity && r.Signatures > 0 && r.ValidSignatures == r.Signatures
}

// SignatureEntry — сведения об одной подписи из отчёта.
type SignatureEntry struct {
	SignerName   string      `json:"signerName"`
	Algorithm    string      `json:"algorithm"`
	SerialNumber string      `json:"serialNumber"`
	SubjectDN    string      `json:"subjectDN"`
	IssuerDN     string      `json:"issuerDN"`
	Status       string      `json:"status"`
	Valid        bool        `json:"valid"`
	Indications  []string    `json:"indications"`
	Warnings     []string    `json:"warnings"`
	Errors       []string    `json:"errors"`
	SigningTime  *time.Time  `json:"signingTime"`
	Certificate  Certificate `json:"certificate"`
}

// Certificate — сведения о сертификате подписанта.
type Certificate struct {
	NotBefore *time.Time `json:"notBefore"`
	NotAfter  *time.Time `json:"notAfter"`
	Trusted   bool       `json:"trusted"`
	Chain     []string   `json:"chain"`
}

// ServiceInfo — метаданные сервиса валидации (GET /info).
type ServiceInfo struct {
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	Status           string   `json:"status"`
	SupportedFormats []string `json:"supportedFormats,omitempty"`
}

// validationParam — JSON-параметр multipart-запроса /validation.
type validationParam struct {
	Extension string `json:"extension"`
	Detached  bool   `json:"detached"`
}

// errorPayload — тело ответа с ошибкой.
type errorPayload struct {
	ErrorMessage string `json:"errorMessage"`
	Message      string `json:"message"`
}
