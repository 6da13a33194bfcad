package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cert_srv/internal/config"
	"cert_srv/internal/convert"
	"cert_srv/internal/domain/certificate"
	"cert_srv/internal/imageproc"
	"cert_srv/internal/models"
	"cert_srv/internal/naming"
	"cert_srv/internal/qr"
	"cert_srv/internal/render"
	"cert_srv/internal/storage"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Типы содержимого публикуемых артефактов.
const (
	ContentTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypePDF  = "application/pdf"
)

// Ширина встраиваемых изображений в миллиметрах (QR-код и подпись).
const inlineImageWidthMM = 30

// Срок действия presigned-ссылки на артефакт при проверке.
const verifyURLExpiration = 1 * time.Hour

// ErrIssuanceNotFound возвращается, когда запись о выдаче отсутствует
// в реестре.
var ErrIssuanceNotFound = errors.New("issuance not found")

// CertificateService интерфейс сервиса генерации сертификатов.
type CertificateService interface {
	Generate(ctx context.Context, req certificate.Request, toPDF bool) (*GenerateResult, error)
	Verify(ctx context.Context, certNo string) (*VerificationResult, error)
	ListIssuances(ctx context.Context, params ListIssuanceParams) (*IssuanceList, error)
	ExportIssuances(ctx context.Context) (io.Reader, string, error)
	RevokeIssuance(ctx context.Context, id uint) error
}

// IssuanceRepository интерфейс реестра выдач.
type IssuanceRepository interface {
	Create(ctx context.Context, issuance *models.Issuance) error
	GetByID(ctx context.Context, id uint) (*models.Issuance, error)
	GetByCertificateNumber(ctx context.Context, certNo string) (*models.Issuance, error)
	List(ctx context.Context, params ListIssuanceParams) ([]models.Issuance, int64, error)
	ListAll(ctx context.Context) ([]models.Issuance, error)
	Save(ctx context.Context, issuance *models.Issuance) error
}

// DocumentConverter интерфейс конвертера docx в PDF.
type DocumentConverter interface {
	Convert(ctx context.Context, document []byte) ([]byte, error)
}

// GenerateResult результат успешной генерации.
type GenerateResult struct {
	Key         string `json:"key"`
	ContentType string `json:"-"`
}

// VerificationResult результат проверки сертификата по номеру.
type VerificationResult struct {
	Issuance    *models.Issuance `json:"issuance"`
	DownloadURL string           `json:"download_url,omitempty"`
}

// ListIssuanceParams параметры для получения списка выдач.
type ListIssuanceParams struct {
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Status   string `json:"status,omitempty"`
	Search   string `json:"search,omitempty"`
}

// IssuanceList результат получения списка выдач с пагинацией.
type IssuanceList struct {
	Issuances  []models.Issuance `json:"issuances"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// CertificateServiceImpl реализация сервиса сертификатов. Все этапы
// конвейера выполняются синхронно внутри одного запроса; общее
// состояние между запросами — только клиент хранилища и подключение
// к БД, оба безопасны для конкурентного использования.
type CertificateServiceImpl struct {
	storage    storage.Storage
	repository IssuanceRepository
	encoder    *qr.Encoder
	converter  DocumentConverter
	exporter   *IssuanceExporter
	logger     *logrus.Logger
}

// NewCertificateService создает новый сервис сертификатов.
func NewCertificateService(
	store storage.Storage,
	repository IssuanceRepository,
	encoder *qr.Encoder,
	converter DocumentConverter,
	exporter *IssuanceExporter,
	logger *logrus.Logger,
) CertificateService {
	return &CertificateServiceImpl{
		storage:    store,
		repository: repository,
		encoder:    encoder,
		converter:  converter,
		exporter:   exporter,
		logger:     logger,
	}
}

// Generate выполняет конвейер генерации: валидация, вычисление ключа,
// загрузка шаблона и подписи, QR-код, нормализация изображения,
// рендеринг документа, опциональная конвертация в PDF, публикация и
// запись в реестр. Любой отказ прерывает запрос без частичных
// артефактов.
func (s *CertificateServiceImpl) Generate(ctx context.Context, req certificate.Request, toPDF bool) (*GenerateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Ключи ресурсов проверяются правилами конкретного бэкенда до
	// любых внешних вызовов.
	for _, assetKey := range []string{req.TemplateKey, req.SignatureKey} {
		if err := s.storage.ValidateKey(assetKey); err != nil {
			return nil, certificate.NewError(certificate.KindValidation, certificate.StageValidate, err)
		}
	}

	certNo := req.CertificateNumber()
	logger := s.logger.WithFields(logrus.Fields{
		"certificate_number": certNo,
		"template_key":       req.TemplateKey,
		"pdf":                toPDF,
	})
	logger.Info("Начало генерации сертификата")

	// Ключ вычисляется до обращений к хранилищу: ошибки идентичности
	// должны отсекаться без внешних вызовов. Ключ из запроса только
	// рекомендательный и всегда перекрывается вычисленным.
	key, err := naming.DeriveKey(
		certNo,
		req.Field(certificate.FieldFirstName),
		req.Field(certificate.FieldMiddleName),
		req.Field(certificate.FieldLastName),
	)
	if err != nil {
		return nil, certificate.NewError(certificate.KindInvalidIdentity, certificate.StageDeriveKey, err)
	}

	templateBytes, err := s.fetchAsset(ctx, req.TemplateKey)
	if err != nil {
		logger.WithError(err).Error("Не удалось получить шаблон")
		return nil, err
	}

	qrImage, err := s.encoder.Encode(s.encoder.VerificationPayload(certNo))
	if err != nil {
		return nil, certificate.NewError(certificate.KindInternal, certificate.StageQREncode, err)
	}

	signatureBytes, err := s.fetchAsset(ctx, req.SignatureKey)
	if err != nil {
		logger.WithError(err).Error("Не удалось получить изображение подписи")
		return nil, err
	}

	signatureImage, err := imageproc.Normalize(signatureBytes, imageproc.DefaultMaxWidth, imageproc.DefaultMaxHeight)
	if err != nil {
		return nil, certificate.NewError(certificate.KindUnsupportedImage, certificate.StageNormalize, err)
	}

	document, err := render.Render(templateBytes, render.Context{
		Fields: map[string]string{
			certificate.FieldFirstName:         req.Field(certificate.FieldFirstName),
			certificate.FieldMiddleName:        req.Field(certificate.FieldMiddleName),
			certificate.FieldLastName:          req.Field(certificate.FieldLastName),
			certificate.FieldTrainingDate:      certificate.FormatDate(req.Field(certificate.FieldTrainingDate)),
			certificate.FieldIssueDate:         certificate.FormatDate(req.Field(certificate.FieldIssueDate)),
			certificate.FieldCertificateNumber: req.Field(certificate.FieldCertificateNumber),
			certificate.FieldInstructorName:    req.Field(certificate.FieldInstructorName),
		},
		Images: map[string]render.Image{
			certificate.PlaceholderQRCode:    {Data: qrImage, WidthMM: inlineImageWidthMM},
			certificate.PlaceholderSignature: {Data: signatureImage, WidthMM: inlineImageWidthMM},
		},
	})
	if err != nil {
		logger.WithError(err).Error("Ошибка рендеринга шаблона")
		return nil, certificate.NewError(certificate.KindTemplateRender, certificate.StageRender, err)
	}

	contentType := ContentTypeDocx
	format := "docx"
	if toPDF {
		converted, err := s.converter.Convert(ctx, document)
		if err != nil {
			logger.WithError(err).Error("Ошибка конвертации в PDF")
			kind := certificate.KindConversionProcess
			if errors.Is(err, convert.ErrOutputMissing) {
				kind = certificate.KindConversionOutput
			}
			return nil, certificate.NewError(kind, certificate.StageConvert, err)
		}
		document = converted
		key = naming.WithExtension(key, "pdf")
		contentType = ContentTypePDF
		format = "pdf"
	}

	if err := s.storage.Save(ctx, key, bytes.NewReader(document), contentType); err != nil {
		logger.WithError(err).Error("Ошибка публикации артефакта")
		return nil, certificate.NewError(certificate.KindPublish, certificate.StagePublish, err)
	}

	issuance := &models.Issuance{
		CertificateNumber: certNo,
		FirstName:         req.Field(certificate.FieldFirstName),
		MiddleName:        req.Field(certificate.FieldMiddleName),
		LastName:          req.Field(certificate.FieldLastName),
		InstructorName:    req.Field(certificate.FieldInstructorName),
		TrainingDate:      req.Field(certificate.FieldTrainingDate),
		IssueDate:         req.Field(certificate.FieldIssueDate),
		FileKey:           key,
		ContentType:       contentType,
		Format:            format,
		Status:            models.StatusIssued,
		Fields:            fieldsJSON(req.Fields),
	}
	if err := s.repository.Create(ctx, issuance); err != nil {
		logger.WithError(err).Error("Ошибка записи в реестр выдач")
		return nil, certificate.NewError(certificate.KindRegistry, certificate.StageRegistry, err)
	}

	logger.WithField("key", key).Info("Сертификат сгенерирован успешно")
	return &GenerateResult{Key: key, ContentType: contentType}, nil
}

// fetchAsset загружает объект из хранилища целиком. Одна неудачная
// загрузка прерывает весь запрос, повторов нет.
func (s *CertificateServiceImpl) fetchAsset(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, certificate.NewError(certificate.KindAssetNotFound, certificate.StageFetch, err)
		}
		return nil, certificate.NewError(certificate.KindAssetUnavailable, certificate.StageFetch, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, certificate.NewError(certificate.KindAssetUnavailable, certificate.StageFetch,
			fmt.Errorf("чтение объекта %s: %w", key, err))
	}
	return data, nil
}

// Verify проверяет сертификат по номеру и возвращает данные выдачи
// вместе со ссылкой на скачивание артефакта.
func (s *CertificateServiceImpl) Verify(ctx context.Context, certNo string) (*VerificationResult, error) {
	issuance, err := s.repository.GetByCertificateNumber(ctx, certNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIssuanceNotFound
		}
		s.logger.WithError(err).WithField("certificate_number", certNo).Error("Ошибка поиска выдачи")
		return nil, fmt.Errorf("ошибка поиска выдачи: %w", err)
	}

	result := &VerificationResult{Issuance: issuance}
	if issuance.IsRevoked() {
		return result, nil
	}

	// Ссылка выдается только на существующий артефакт: запись в
	// реестре могла пережить сам файл.
	exists, err := s.storage.Exists(ctx, issuance.FileKey)
	if err != nil {
		s.logger.WithError(err).WithField("file_key", issuance.FileKey).Error("Ошибка проверки артефакта")
		return nil, fmt.Errorf("ошибка проверки артефакта: %w", err)
	}
	if !exists {
		s.logger.WithField("file_key", issuance.FileKey).Warn("Артефакт сертификата отсутствует в хранилище")
		return result, nil
	}

	url, err := s.storage.GetPresignedURL(ctx, issuance.FileKey, verifyURLExpiration)
	if err != nil {
		s.logger.WithError(err).WithField("file_key", issuance.FileKey).Error("Ошибка генерации ссылки на артефакт")
		return nil, fmt.Errorf("ошибка генерации ссылки: %w", err)
	}
	result.DownloadURL = url

	return result, nil
}

// ListIssuances получает список выдач с пагинацией.
func (s *CertificateServiceImpl) ListIssuances(ctx context.Context, params ListIssuanceParams) (*IssuanceList, error) {
	// Валидация параметров пагинации
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	issuances, total, err := s.repository.List(ctx, params)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения списка выдач")
		return nil, fmt.Errorf("ошибка получения списка выдач: %w", err)
	}

	totalPages := int((total + int64(params.PageSize) - 1) / int64(params.PageSize))

	return &IssuanceList{
		Issuances:  issuances,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	}, nil
}

// ExportIssuances выгружает реестр выдач в виде xlsx-файла.
func (s *CertificateServiceImpl) ExportIssuances(ctx context.Context) (io.Reader, string, error) {
	issuances, err := s.repository.ListAll(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка выгрузки реестра")
		return nil, "", fmt.Errorf("ошибка выгрузки реестра: %w", err)
	}
	return s.exporter.Generate(ctx, issuances)
}

// RevokeIssuance отзывает выдачу: артефакт удаляется из хранилища
// (по возможности), запись помечается отозванной.
func (s *CertificateServiceImpl) RevokeIssuance(ctx context.Context, id uint) error {
	logger := s.logger.WithField("issuance_id", id)

	issuance, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrIssuanceNotFound
		}
		return fmt.Errorf("ошибка получения выдачи: %w", err)
	}

	// Удаляем артефакт из хранилища; ошибка удаления не мешает отзыву
	if issuance.FileKey != "" {
		if err := s.storage.Delete(ctx, issuance.FileKey); err != nil {
			logger.WithError(err).WithField("file_key", issuance.FileKey).
				Error("Ошибка удаления артефакта сертификата")
		}
	}

	issuance.Revoke()
	if err := s.repository.Save(ctx, issuance); err != nil {
		logger.WithError(err).Error("Ошибка отзыва выдачи")
		return fmt.Errorf("ошибка отзыва выдачи: %w", err)
	}

	logger.WithField("certificate_number", issuance.CertificateNumber).Info("Выдача отозвана")
	return nil
}

// fieldsJSON переводит поля запроса в JSON-представление для реестра.
func fieldsJSON(fields map[string]string) models.JSON {
	if fields == nil {
		return nil
	}
	out := make(models.JSON, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// GormIssuanceRepository реализация реестра выдач для GORM.
type GormIssuanceRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewGormIssuanceRepository создает новый GORM репозиторий выдач.
func NewGormIssuanceRepository(db *gorm.DB, logger *logrus.Logger) IssuanceRepository {
	return &GormIssuanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает новую запись о выдаче.
func (r *GormIssuanceRepository) Create(ctx context.Context, issuance *models.Issuance) error {
	return r.db.WithContext(ctx).Create(issuance).Error
}

// GetByID получает выдачу по ID.
func (r *GormIssuanceRepository) GetByID(ctx context.Context, id uint) (*models.Issuance, error) {
	var issuance models.Issuance
	err := r.db.WithContext(ctx).First(&issuance, id).Error
	return &issuance, err
}

// GetByCertificateNumber получает последнюю выдачу по номеру сертификата.
func (r *GormIssuanceRepository) GetByCertificateNumber(ctx context.Context, certNo string) (*models.Issuance, error) {
	var issuance models.Issuance
	err := r.db.WithContext(ctx).
		Where("certificate_number = ?", certNo).
		Order("created_at DESC").
		First(&issuance).Error
	return &issuance, err
}

// List получает список выдач с фильтрацией и пагинацией.
func (r *GormIssuanceRepository) List(ctx context.Context, params ListIssuanceParams) ([]models.Issuance, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Issuance{})

	// Фильтрация по статусу
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	// Поиск
	if params.Search != "" {
		searchPattern := "%" + params.Search + "%"
		query = query.Where(
			"certificate_number LIKE ? OR first_name LIKE ? OR last_name LIKE ?",
			searchPattern, searchPattern, searchPattern,
		)
	}

	// Подсчет общего количества
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Пагинация
	offset := (params.Page - 1) * params.PageSize
	query = query.Order("created_at DESC").Offset(offset).Limit(params.PageSize)

	var issuances []models.Issuance
	err := query.Find(&issuances).Error

	return issuances, total, err
}

// ListAll получает все выдачи для выгрузки реестра.
func (r *GormIssuanceRepository) ListAll(ctx context.Context) ([]models.Issuance, error) {
	var issuances []models.Issuance
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&issuances).Error
	return issuances, err
}

// Save сохраняет измененную запись о выдаче.
func (r *GormIssuanceRepository) Save(ctx context.Context, issuance *models.Issuance) error {
	return r.db.WithContext(ctx).Save(issuance).Error
}

// NewCertificateServiceFromDB создает полностью настроенный сервис
// сертификатов из конфигурации.
func NewCertificateServiceFromDB(cfg config.Config, db *gorm.DB, store storage.Storage, logger *logrus.Logger) CertificateService {
	repository := NewGormIssuanceRepository(db, logger)
	encoder := qr.NewEncoder(cfg.Verify.BaseURL)
	converter := convert.NewPDFConverter(
		cfg.Converter.Binary,
		time.Duration(cfg.Converter.TimeoutSeconds)*time.Second,
		logger,
	)
	exporter := NewIssuanceExporter(logger)

	return NewCertificateService(store, repository, encoder, converter, exporter, logger)
}
