package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cert_srv/internal/config"
	"cert_srv/internal/domain/certificate"
	"cert_srv/internal/models"
	"cert_srv/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockCertificateService is a mock implementation of the
// CertificateService interface
type MockCertificateService struct {
	mock.Mock
}

func (m *MockCertificateService) Generate(ctx context.Context, req certificate.Request, toPDF bool) (*service.GenerateResult, error) {
	args := m.Called(ctx, req, toPDF)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.GenerateResult), args.Error(1)
}

func (m *MockCertificateService) Verify(ctx context.Context, certNo string) (*service.VerificationResult, error) {
	args := m.Called(ctx, certNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.VerificationResult), args.Error(1)
}

func (m *MockCertificateService) ListIssuances(ctx context.Context, params service.ListIssuanceParams) (*service.IssuanceList, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IssuanceList), args.Error(1)
}

func (m *MockCertificateService) ExportIssuances(ctx context.Context) (io.Reader, string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(io.Reader), args.String(1), args.Error(2)
}

func (m *MockCertificateService) RevokeIssuance(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func setupTestServer(apiKey string) (*Server, *MockCertificateService) {
	mockService := new(MockCertificateService)
	cfg := config.Config{}
	cfg.Server.Address = ":0"
	cfg.Security.APIKey = apiKey

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewServer(cfg, mockService, logger), mockService
}

const generateBody = `{
	"templateKey": "templates/cert.docx",
	"signatureKey": "signatures/instructor.png",
	"outputKey": "whatever.docx",
	"data": {
		"certificate_number": "CERT-001",
		"first_name": "Jane",
		"last_name": "Doe"
	}
}`

func doRequest(srv *Server, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echoHeaderContentType, "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func TestHealthCheck(t *testing.T) {
	srv, _ := setupTestServer("")

	rec := doRequest(srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGenerateDocx(t *testing.T) {
	srv, mockService := setupTestServer("")

	mockService.On("Generate", mock.Anything, mock.Anything, false).
		Return(&service.GenerateResult{Key: "certificates/CERT001_Jane_Doe.docx"}, nil)

	rec := doRequest(srv, http.MethodPost, "/generate-docx", generateBody, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"certificates/CERT001_Jane_Doe.docx"}`, rec.Body.String())

	mockService.AssertExpectations(t)
}

func TestGeneratePDFUsesConversion(t *testing.T) {
	srv, mockService := setupTestServer("")

	mockService.On("Generate", mock.Anything, mock.Anything, true).
		Return(&service.GenerateResult{Key: "certificates/CERT001_Jane_Doe.pdf"}, nil)

	rec := doRequest(srv, http.MethodPost, "/generate-pdf", generateBody, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	mockService.AssertExpectations(t)
}

func TestGenerateValidationErrorIs400(t *testing.T) {
	srv, mockService := setupTestServer("")

	mockService.On("Generate", mock.Anything, mock.Anything, false).
		Return(nil, certificate.NewError(certificate.KindValidation, certificate.StageValidate,
			errors.New("certificate_number missing")))

	rec := doRequest(srv, http.MethodPost, "/generate-docx", `{"templateKey":"t","signatureKey":"s","data":{}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "certificate_number missing")
}

func TestGeneratePipelineErrorIs500(t *testing.T) {
	srv, mockService := setupTestServer("")

	mockService.On("Generate", mock.Anything, mock.Anything, false).
		Return(nil, certificate.NewError(certificate.KindAssetNotFound, certificate.StageFetch,
			errors.New("object not found")))

	rec := doRequest(srv, http.MethodPost, "/generate-docx", generateBody, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "detail")
}

func TestAPIKeyRequired(t *testing.T) {
	srv, mockService := setupTestServer("secret-key")

	rec := doRequest(srv, http.MethodPost, "/generate-docx", generateBody, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/generate-docx", generateBody, map[string]string{
		HeaderAPIKey: "wrong-key",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// No pipeline work happens before the key check.
	mockService.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)

	mockService.On("Generate", mock.Anything, mock.Anything, false).
		Return(&service.GenerateResult{Key: "certificates/CERT001_Jane_Doe.docx"}, nil)

	rec = doRequest(srv, http.MethodPost, "/generate-docx", generateBody, map[string]string{
		HeaderAPIKey: "secret-key",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyDoesNotGuardOpenRoutes(t *testing.T) {
	srv, mockService := setupTestServer("secret-key")

	rec := doRequest(srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	mockService.On("Verify", mock.Anything, "CERT-001").
		Return(nil, service.ErrIssuanceNotFound)

	rec = doRequest(srv, http.MethodGet, "/verify/CERT-001", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyCertificate(t *testing.T) {
	srv, mockService := setupTestServer("")

	mockService.On("Verify", mock.Anything, "CERT-001").
		Return(&service.VerificationResult{
			Issuance: &models.Issuance{
				CertificateNumber: "CERT-001",
				FirstName:         "Jane",
				LastName:          "Doe",
				Status:            models.StatusIssued,
			},
			DownloadURL: "https://store.example.com/signed",
		}, nil)

	rec := doRequest(srv, http.MethodGet, "/verify/CERT-001", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "CERT-001")
	assert.Contains(t, rec.Body.String(), "https://store.example.com/signed")
}

func TestVerifyRevokedCertificateIs410(t *testing.T) {
	srv, mockService := setupTestServer("")

	mockService.On("Verify", mock.Anything, "CERT-002").
		Return(&service.VerificationResult{
			Issuance: &models.Issuance{
				CertificateNumber: "CERT-002",
				Status:            models.StatusRevoked,
			},
		}, nil)

	rec := doRequest(srv, http.MethodGet, "/verify/CERT-002", "", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestListCertificates(t *testing.T) {
	srv, mockService := setupTestServer("")

	mockService.On("ListIssuances", mock.Anything, service.ListIssuanceParams{Page: 2, PageSize: 10}).
		Return(&service.IssuanceList{Page: 2, PageSize: 10}, nil)

	rec := doRequest(srv, http.MethodGet, "/certificates?page=2&page_size=10", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	mockService.AssertExpectations(t)
}

func TestRevokeCertificate(t *testing.T) {
	srv, mockService := setupTestServer("")

	mockService.On("RevokeIssuance", mock.Anything, uint(7)).Return(nil)

	rec := doRequest(srv, http.MethodDelete, "/certificates/7", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodDelete, "/certificates/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mockService.On("RevokeIssuance", mock.Anything, uint(8)).Return(service.ErrIssuanceNotFound)
	rec = doRequest(srv, http.MethodDelete, "/certificates/8", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
