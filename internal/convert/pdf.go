// Package convert transcodes rendered docx documents into PDF by
// driving a LibreOffice process.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for conversion failures. A process that exits zero
// but leaves no output file is a silent tool failure and gets its own
// error to keep it distinguishable from a reported one.
var (
	ErrProcessFailed = errors.New("conversion process failed")
	ErrOutputMissing = errors.New("conversion produced no output file")
)

const (
	// DefaultBinary is the LibreOffice executable looked up on PATH.
	DefaultBinary = "soffice"
	// DefaultTimeout bounds a single conversion run.
	DefaultTimeout = 2 * time.Minute

	inputName  = "document.docx"
	outputName = "document.pdf"
)

// CommandRunner abstracts process execution so conversions can be
// tested without a LibreOffice installation.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout string, stderr string, err error)
}

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// Run executes the command and captures both output streams.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// PDFConverter runs LibreOffice in headless mode. Every call gets a
// fresh private working directory holding the input file, the output
// file and a dedicated user profile, so concurrent conversions never
// share lock files. The directory is removed on every exit path.
type PDFConverter struct {
	binary  string
	timeout time.Duration
	runner  CommandRunner
	logger  *logrus.Logger
}

// NewPDFConverter создает конвертер docx в PDF. Пустой binary и нулевой
// timeout заменяются значениями по умолчанию.
func NewPDFConverter(binary string, timeout time.Duration, logger *logrus.Logger) *PDFConverter {
	if binary == "" {
		binary = DefaultBinary
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PDFConverter{
		binary:  binary,
		timeout: timeout,
		runner:  &ExecRunner{},
		logger:  logger,
	}
}

// Convert переводит документ docx в PDF через внешний процесс.
func (c *PDFConverter) Convert(ctx context.Context, document []byte) ([]byte, error) {
	workDir, err := os.MkdirTemp("", "cert-convert-*")
	if err != nil {
		return nil, fmt.Errorf("creating conversion workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, inputName)
	if err := os.WriteFile(inputPath, document, 0o600); err != nil {
		return nil, fmt.Errorf("writing conversion input: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{
		"--headless",
		"--norestore",
		"--nolockcheck",
		"--nodefault",
		"-env:UserInstallation=file://" + filepath.Join(workDir, "profile"),
		"--convert-to", "pdf",
		"--outdir", workDir,
		inputPath,
	}

	start := time.Now()
	_, stderr, err := c.runner.Run(runCtx, c.binary, args...)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrProcessFailed, c.timeout)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessFailed, stderr, err)
	}

	output, err := os.ReadFile(filepath.Join(workDir, outputName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s exited cleanly", ErrOutputMissing, c.binary)
		}
		return nil, fmt.Errorf("reading conversion output: %w", err)
	}

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"duration": time.Since(start),
			"size":     len(output),
		}).Debug("Документ сконвертирован в PDF")
	}
	return output, nil
}
