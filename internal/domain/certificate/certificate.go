package certificate

import (
	"fmt"
	"strings"
	"time"
)

// Ключи полей данных сертификата.
const (
	FieldFirstName         = "first_name"
	FieldMiddleName        = "middle_name"
	FieldLastName          = "last_name"
	FieldTrainingDate      = "training_date"
	FieldIssueDate         = "issue_date"
	FieldCertificateNumber = "certificate_number"
	FieldInstructorName    = "instructor_name"
)

// FieldKeys перечисляет все поддерживаемые поля шаблона.
var FieldKeys = []string{
	FieldFirstName,
	FieldMiddleName,
	FieldLastName,
	FieldTrainingDate,
	FieldIssueDate,
	FieldCertificateNumber,
	FieldInstructorName,
}

// Имена плейсхолдеров для встраиваемых изображений.
const (
	PlaceholderQRCode    = "qr_code"
	PlaceholderSignature = "instructor_signature"
)

// Request содержит входные данные запроса на генерацию сертификата.
// OutputKey носит рекомендательный характер: итоговый ключ всегда
// определяется по полям идентичности.
type Request struct {
	TemplateKey  string
	SignatureKey string
	OutputKey    string
	Fields       map[string]string
}

// Field возвращает значение поля или пустую строку, если оно не задано.
func (r *Request) Field(key string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[key]
}

// CertificateNumber возвращает номер сертификата без окружающих пробелов.
func (r *Request) CertificateNumber() string {
	return strings.TrimSpace(r.Field(FieldCertificateNumber))
}

// Validate проверяет обязательные поля запроса до начала работы конвейера.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.TemplateKey) == "" {
		return NewError(KindValidation, StageValidate, fmt.Errorf("templateKey is required"))
	}
	if strings.TrimSpace(r.SignatureKey) == "" {
		return NewError(KindValidation, StageValidate, fmt.Errorf("signatureKey is required"))
	}
	if r.CertificateNumber() == "" {
		return NewError(KindValidation, StageValidate, fmt.Errorf("certificate_number missing"))
	}
	return nil
}

// Форматы дат, принимаемые нормализацией. Покрывают календарную дату
// и распространённые варианты ISO-8601 отметок времени.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// FormatDate приводит дату к виду MM/DD/YYYY. Если строку не удалось
// разобрать ни одним из известных форматов, она возвращается без
// изменений: некорректная дата попадает в документ как есть и не
// прерывает запрос целиком.
func FormatDate(value string) string {
	for _, layout := range dateLayouts {
		if dt, err := time.Parse(layout, value); err == nil {
			return dt.Format("01/02/2006")
		}
	}
	return value
}
