package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"cert_srv/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// IssuanceExporter выгружает реестр выдач в формате Excel.
type IssuanceExporter struct {
	logger *logrus.Logger
}

// NewIssuanceExporter создает новый экспортер реестра.
func NewIssuanceExporter(logger *logrus.Logger) *IssuanceExporter {
	return &IssuanceExporter{logger: logger}
}

// Generate формирует xlsx-файл со всеми записями реестра.
func (g *IssuanceExporter) Generate(ctx context.Context, issuances []models.Issuance) (io.Reader, string, error) {
	logger := g.logger.WithField("count", len(issuances))
	logger.Info("Выгрузка реестра выдач")

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Issuances"
	f.SetSheetName("Sheet1", sheet)

	// Стиль для заголовков
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
			Size: 12,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6E6FA"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		logger.WithError(err).Warn("Ошибка создания стиля заголовка")
	}

	// Заголовки
	headers := []string{
		"Номер сертификата", "Владелец", "Инструктор",
		"Дата обучения", "Дата выдачи", "Формат", "Статус", "Ключ файла", "Создано",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, header)
		if headerStyle != 0 {
			f.SetCellStyle(sheet, cell, cell, headerStyle)
		}
	}

	// Заполняем данные
	for rowIndex, issuance := range issuances {
		row := []interface{}{
			issuance.CertificateNumber,
			issuance.HolderName(),
			issuance.InstructorName,
			issuance.TrainingDate,
			issuance.IssueDate,
			issuance.Format,
			issuance.Status,
			issuance.FileKey,
			issuance.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for colIndex, value := range row {
			cell, _ := excelize.CoordinatesToCellName(colIndex+1, rowIndex+2)
			f.SetCellValue(sheet, cell, value)
		}
	}

	// Ширина колонок
	f.SetColWidth(sheet, "A", "B", 30)
	f.SetColWidth(sheet, "H", "H", 50)

	// Генерируем буфер
	var buffer bytes.Buffer
	if err := f.Write(&buffer); err != nil {
		logger.WithError(err).Error("Ошибка записи Excel файла")
		return nil, "", fmt.Errorf("ошибка выгрузки реестра: %w", err)
	}

	filename := fmt.Sprintf("issuances_%s.xlsx", time.Now().Format("20060102_150405"))

	logger.WithField("filename", filename).Info("Реестр выгружен успешно")
	return &buffer, filename, nil
}
