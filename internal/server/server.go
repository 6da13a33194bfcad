package server

import (
	"context"
	"net/http"
	"strconv"

	"cert_srv/internal/config"
	"cert_srv/internal/domain/certificate"
	"cert_srv/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// HeaderAPIKey is the header checked on protected routes.
const HeaderAPIKey = "x-internal-api-key"

// Server represents the HTTP server
type Server struct {
	echo    *echo.Echo
	service service.CertificateService
	apiKey  string
	logger  *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, certService service.CertificateService, logger *logrus.Logger) *Server {
	e := echo.New()
	e.Debug = cfg.Server.Debug
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	// An empty origin list blocks cross-origin requests entirely.
	if origins := cfg.Server.CORSOriginList(); len(origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     origins,
			AllowCredentials: true,
		}))
	}

	if cfg.Server.Debug {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${time_rfc3339} ${method} ${uri} ${status} ${latency_human} ${error}\n",
		}))
	}

	server := &Server{
		echo:    e,
		service: certService,
		apiKey:  cfg.Security.APIKey,
		logger:  logger,
	}

	server.setupRoutes()
	return server
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.WithField("address", address).Info("Starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// setupRoutes configures the server routes. Health and verification
// stay open; generation and registry routes require the internal API
// key when one is configured.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/verify/:certificate_number", s.verifyCertificate)

	protected := s.echo.Group("", s.requireAPIKey)
	protected.POST("/generate-docx", s.generateDocx)
	protected.POST("/generate-pdf", s.generatePDF)

	certificates := protected.Group("/certificates")
	certificates.GET("", s.listCertificates)
	certificates.GET("/export", s.exportCertificates)
	certificates.DELETE("/:id", s.revokeCertificate)
}

// requireAPIKey rejects requests without the configured internal API
// key before any pipeline work begins. An empty configured key
// disables the check.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.apiKey != "" && c.Request().Header.Get(HeaderAPIKey) != s.apiKey {
			return c.JSON(http.StatusForbidden, map[string]string{
				"detail": "invalid or missing API key",
			})
		}
		return next(c)
	}
}

// healthCheck handles health check requests
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// generateRequest is the request body of the generation endpoints.
type generateRequest struct {
	TemplateKey  string            `json:"templateKey"`
	SignatureKey string            `json:"signatureKey"`
	OutputKey    string            `json:"outputKey"`
	Data         map[string]string `json:"data"`
}

func (r generateRequest) toDomain() certificate.Request {
	return certificate.Request{
		TemplateKey:  r.TemplateKey,
		SignatureKey: r.SignatureKey,
		OutputKey:    r.OutputKey,
		Fields:       r.Data,
	}
}

// generateDocx handles docx certificate generation
func (s *Server) generateDocx(c echo.Context) error {
	return s.generate(c, false)
}

// generatePDF handles certificate generation with PDF conversion
func (s *Server) generatePDF(c echo.Context) error {
	return s.generate(c, true)
}

func (s *Server) generate(c echo.Context, toPDF bool) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.WithError(err).Error("Failed to bind request")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"detail": "invalid request format",
		})
	}

	result, err := s.service.Generate(c.Request().Context(), req.toDomain(), toPDF)
	if err != nil {
		return s.pipelineError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"key": result.Key,
	})
}

// pipelineError maps tagged pipeline errors to response statuses:
// request-level failures are the caller's fault, everything else is a
// server error carrying the failure's message.
func (s *Server) pipelineError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	if certificate.IsClientError(err) {
		status = http.StatusBadRequest
	} else {
		s.logger.WithError(err).Error("Certificate generation failed")
	}

	return c.JSON(status, map[string]string{
		"detail": err.Error(),
	})
}

// verifyCertificate handles certificate verification by number
func (s *Server) verifyCertificate(c echo.Context) error {
	certNo := c.Param("certificate_number")

	result, err := s.service.Verify(c.Request().Context(), certNo)
	if err != nil {
		if err == service.ErrIssuanceNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{
				"detail": "certificate not found",
			})
		}
		s.logger.WithError(err).Error("Failed to verify certificate")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"detail": err.Error(),
		})
	}

	if result.Issuance.IsRevoked() {
		return c.JSON(http.StatusGone, map[string]string{
			"detail": "certificate has been revoked",
		})
	}

	return c.JSON(http.StatusOK, result)
}

// listCertificates handles listing issued certificates
func (s *Server) listCertificates(c echo.Context) error {
	params := service.ListIssuanceParams{
		Status: c.QueryParam("status"),
		Search: c.QueryParam("search"),
	}
	if page, err := strconv.Atoi(c.QueryParam("page")); err == nil {
		params.Page = page
	}
	if pageSize, err := strconv.Atoi(c.QueryParam("page_size")); err == nil {
		params.PageSize = pageSize
	}

	result, err := s.service.ListIssuances(c.Request().Context(), params)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list certificates")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"detail": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, result)
}

// exportCertificates handles the issuance registry export
func (s *Server) exportCertificates(c echo.Context) error {
	reader, filename, err := s.service.ExportIssuances(c.Request().Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to export certificates")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"detail": err.Error(),
		})
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Stream(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", reader)
}

// revokeCertificate handles certificate revocation
func (s *Server) revokeCertificate(c echo.Context) error {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"detail": "invalid issuance ID",
		})
	}

	if err := s.service.RevokeIssuance(c.Request().Context(), uint(id)); err != nil {
		if err == service.ErrIssuanceNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{
				"detail": "issuance not found",
			})
		}
		s.logger.WithError(err).Error("Failed to revoke certificate")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"detail": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "certificate revoked successfully",
	})
}
