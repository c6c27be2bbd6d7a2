// Package libreoffice wraps headless LibreOffice for document conversion.
package libreoffice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docprep/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client runs LibreOffice conversions. The configured binary is tried
// first, then soffice, which some distributions ship instead.
type Client struct {
	binaries []string
	timeout  time.Duration
	exec     Executor
}

// New constructs a LibreOffice client.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("libreoffice binary required")
	}
	binaries := []string{binary}
	if binary != "soffice" {
		binaries = append(binaries, "soffice")
	}
	client := &Client{
		binaries: binaries,
		timeout:  time.Duration(timeoutSeconds) * time.Second,
		exec:     commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Convert renders src into the given target format inside outDir and
// returns the path of the produced file. The target is a LibreOffice
// convert-to token such as "pdf" or "docx".
func (c *Client) Convert(ctx context.Context, src, outDir, target string) (string, error) {
	if src == "" || outDir == "" || target == "" {
		return "", services.Wrap(services.ErrValidation, "libreoffice", "convert", "source, output dir and target required", nil)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConversion, "libreoffice", "convert", outDir, err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{"--headless", "--convert-to", target, "--outdir", outDir, src}
	var lastErr error
	for _, binary := range c.binaries {
		lastErr = c.exec.Run(runCtx, binary, args, nil)
		if lastErr == nil {
			return c.verifyOutput(src, outDir, target)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, "libreoffice", "convert",
				fmt.Sprintf("conversion of %s timed out after %s", filepath.Base(src), c.timeout), lastErr)
		}
	}
	return "", services.Wrap(services.ErrExternalTool, "libreoffice", "convert",
		fmt.Sprintf("conversion of %s failed", filepath.Base(src)), lastErr)
}

// verifyOutput confirms LibreOffice actually produced a non-empty file.
// The tool exits zero on some failures, so presence must be checked.
func (c *Client) verifyOutput(src, outDir, target string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	produced := filepath.Join(outDir, stem+"."+target)
	info, err := os.Stat(produced)
	if err != nil {
		return "", services.Wrap(services.ErrConversion, "libreoffice", "verify",
			fmt.Sprintf("no output produced for %s", filepath.Base(src)), err)
	}
	if info.Size() == 0 {
		_ = os.Remove(produced)
		return "", services.Wrap(services.ErrConversion, "libreoffice", "verify",
			fmt.Sprintf("empty output produced for %s", filepath.Base(src)), nil)
	}
	return produced, nil
}
