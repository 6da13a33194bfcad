package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingMiddleware добавляет логирование к операциям хранилища
type LoggingMiddleware struct {
	storage Storage
	logger  *logrus.Logger
}

// NewLoggingMiddleware создает новый logging middleware
func NewLoggingMiddleware(storage Storage, logger *logrus.Logger) Storage {
	return &LoggingMiddleware{
		storage: storage,
		logger:  logger,
	}
}

// Save логирует операцию сохранения
func (m *LoggingMiddleware) Save(ctx context.Context, key string, reader io.Reader, contentType string) error {
	start := time.Now()
	logger := m.logger.WithFields(logrus.Fields{
		"operation":    "save",
		"key":          key,
		"content_type": contentType,
	})

	logger.Debug("Начало сохранения файла")

	err := m.storage.Save(ctx, key, reader, contentType)

	duration := time.Since(start)
	if err != nil {
		logger.WithError(err).WithField("duration", duration).Error("Ошибка сохранения файла")
	} else {
		logger.WithField("duration", duration).Info("Файл сохранен успешно")
	}

	return err
}

// Get логирует операцию получения
func (m *LoggingMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	logger := m.logger.WithFields(logrus.Fields{
		"operation": "get",
		"key":       key,
	})

	logger.Debug("Начало получения файла")

	reader, err := m.storage.Get(ctx, key)

	duration := time.Since(start)
	if err != nil {
		logger.WithError(err).WithField("duration", duration).Error("Ошибка получения файла")
	} else {
		logger.WithField("duration", duration).Info("Файл получен успешно")
	}

	return reader, err
}

// Delete логирует операцию удаления
func (m *LoggingMiddleware) Delete(ctx context.Context, key string) error {
	start := time.Now()
	logger := m.logger.WithFields(logrus.Fields{
		"operation": "delete",
		"key":       key,
	})

	logger.Debug("Начало удаления файла")

	err := m.storage.Delete(ctx, key)

	duration := time.Since(start)
	if err != nil {
		logger.WithError(err).WithField("duration", duration).Error("Ошибка удаления файла")
	} else {
		logger.WithField("duration", duration).Info("Файл удален успешно")
	}

	return err
}

// Остальные методы просто делегируют вызовы
func (m *LoggingMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	return m.storage.Exists(ctx, key)
}

func (m *LoggingMiddleware) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	return m.storage.GetPresignedURL(ctx, key, expiration)
}

func (m *LoggingMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}

// ValidationMiddleware добавляет валидацию к операциям хранилища
type ValidationMiddleware struct {
	storage Storage
	logger  *logrus.Logger
}

// NewValidationMiddleware создает новый validation middleware
func NewValidationMiddleware(storage Storage, logger *logrus.Logger) Storage {
	return &ValidationMiddleware{
		storage: storage,
		logger:  logger,
	}
}

// Save выполняет валидацию перед сохранением
func (m *ValidationMiddleware) Save(ctx context.Context, key string, reader io.Reader, contentType string) error {
	if err := m.validateKey(key); err != nil {
		return err
	}
	return m.storage.Save(ctx, key, reader, contentType)
}

// Get выполняет валидацию перед получением
func (m *ValidationMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := m.validateKey(key); err != nil {
		return nil, err
	}
	return m.storage.Get(ctx, key)
}

// Delete выполняет валидацию перед удалением
func (m *ValidationMiddleware) Delete(ctx context.Context, key string) error {
	if err := m.validateKey(key); err != nil {
		return err
	}
	return m.storage.Delete(ctx, key)
}

// validateKey проверяет корректность ключа
func (m *ValidationMiddleware) validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("ключ файла не может быть пустым")
	}
	return nil
}

func (m *ValidationMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.validateKey(key); err != nil {
		return false, err
	}
	return m.storage.Exists(ctx, key)
}

func (m *ValidationMiddleware) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	if err := m.validateKey(key); err != nil {
		return "", err
	}
	return m.storage.GetPresignedURL(ctx, key, expiration)
}

func (m *ValidationMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}
