package certificate

import (
	"errors"
	"fmt"
)

// Kind классифицирует отказ конвейера. Классификация определяет, как
// HTTP-слой отобразит ошибку на статус ответа.
type Kind int

const (
	// KindInternal — нераспознанная ошибка, ответ 500.
	KindInternal Kind = iota
	// KindValidation — некорректные или отсутствующие поля запроса.
	KindValidation
	// KindInvalidIdentity — поля идентичности пусты после санитизации.
	KindInvalidIdentity
	// KindAssetNotFound — хранилище не содержит запрошенный объект.
	KindAssetNotFound
	// KindAssetUnavailable — транспортная ошибка или отказ авторизации хранилища.
	KindAssetUnavailable
	// KindUnsupportedImage — изображение подписи не удалось декодировать.
	KindUnsupportedImage
	// KindTemplateRender — шаблон повреждён или значение не подходит плейсхолдеру.
	KindTemplateRender
	// KindConversionProcess — внешний конвертер завершился с ошибкой или по таймауту.
	KindConversionProcess
	// KindConversionOutput — конвертер завершился успешно, но файл не создан.
	KindConversionOutput
	// KindPublish — ошибка записи артефакта в хранилище.
	KindPublish
	// KindRegistry — ошибка записи в реестр выдач.
	KindRegistry
)

// Имена этапов конвейера для журналирования и сообщений об ошибках.
const (
	StageValidate   = "validate"
	StageDeriveKey  = "derive_key"
	StageFetch      = "fetch"
	StageQREncode   = "qr_encode"
	StageNormalize  = "normalize_image"
	StageRender     = "render"
	StageConvert    = "convert"
	StagePublish    = "publish"
	StageRegistry   = "registry"
)

// Error — тегированная ошибка этапа конвейера. Каждый этап заворачивает
// свой отказ в Error с собственным Kind; частичных результатов после
// отказа не остаётся.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

// NewError создает тегированную ошибку этапа.
func NewError(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf извлекает классификацию из цепочки ошибок.
// Для неразмеченных ошибок возвращается KindInternal.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindInternal
}

// IsClientError сообщает, должна ли ошибка отображаться как ошибка
// запроса (4xx), а не сервера.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindInvalidIdentity:
		return true
	default:
		return false
	}
}
