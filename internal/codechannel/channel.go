// internal/codechannel/channel.go
//
// The 2FA verification code arrives out of band: an external actor (a person
// or another automation) writes it into a shared single-cell CSV file. The
// channel polls that file and only trusts its content once the size has been
// stable for a few consecutive polls, since the producer may still be writing.
package codechannel

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/aviatools/unipix-etl/internal/config"
)

// Code is a verification code read from the channel.
type Code struct {
	Value      string
	ObservedAt time.Time
}

var (
	// ErrUnavailable reports that no valid code appeared within the wait budget.
	ErrUnavailable = errors.New("verification code unavailable")
	// ErrInvalidFormat reports a code whose shape matches none of the known patterns.
	ErrInvalidFormat = errors.New("verification code has unrecognized format")
)

// codePatterns are the accepted code shapes. Anything else is discarded,
// never trusted.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[A-Za-z0-9]{3}-[A-Za-z0-9]{3}-[A-Za-z0-9]{3}$`),
	regexp.MustCompile(`^[A-Za-z0-9]{6,9}$`),
	regexp.MustCompile(`^\d{6}$`),
}

// ValidFormat reports whether the candidate matches one of the accepted
// code shapes.
func ValidFormat(code string) bool {
	for _, p := range codePatterns {
		if p.MatchString(code) {
			return true
		}
	}
	return false
}

// Channel polls the shared code file.
type Channel struct {
	fs  afero.Fs
	cfg config.ChannelConfig
	log *zap.Logger
	now func() time.Time
}

// New creates a Channel reading from the real filesystem.
func New(cfg config.ChannelConfig, logger *zap.Logger) *Channel {
	return NewWithFs(afero.NewOsFs(), cfg, logger)
}

// NewWithFs creates a Channel on an explicit filesystem. Tests use an
// in-memory one.
func NewWithFs(fs afero.Fs, cfg config.ChannelConfig, logger *zap.Logger) *Channel {
	return &Channel{
		fs:  fs,
		cfg: cfg,
		log: logger.Named("codechannel"),
		now: time.Now,
	}
}

// AwaitCode polls the code file until a valid code is read or maxWait
// elapses. The file is only parsed after its size has been unchanged for
// StableThreshold consecutive polls; a code with an unrecognized shape resets
// the stability tracking and polling continues, because the producer may not
// have finished writing the real value yet.
func (c *Channel) AwaitCode(ctx context.Context, maxWait time.Duration) (Code, error) {
	deadline := c.now().Add(maxWait)
	c.log.Info("Waiting for verification code",
		zap.String("path", c.cfg.Path),
		zap.Duration("max_wait", maxWait))

	var (
		lastSize int64 = -1
		stable   int
	)

	for {
		if err := ctx.Err(); err != nil {
			return Code{}, err
		}
		if !c.now().Before(deadline) {
			c.log.Warn("Timed out waiting for verification code")
			return Code{}, ErrUnavailable
		}

		info, err := c.fs.Stat(c.cfg.Path)
		if err != nil {
			c.log.Debug("Code file not present yet")
			lastSize, stable = -1, 0
			if err := c.pause(ctx, c.cfg.PollInterval); err != nil {
				return Code{}, err
			}
			continue
		}

		if info.Size() != lastSize {
			c.log.Debug("Code file size changed", zap.Int64("size", info.Size()))
			lastSize, stable = info.Size(), 0
			if err := c.pause(ctx, c.cfg.PollInterval); err != nil {
				return Code{}, err
			}
			continue
		}

		stable++
		if stable < c.cfg.StableThreshold {
			if err := c.pause(ctx, c.cfg.PollInterval); err != nil {
				return Code{}, err
			}
			continue
		}

		code, err := c.readStable(ctx)
		if err == nil {
			c.log.Info("Verification code read", zap.String("code", code.Value))
			return code, nil
		}
		if errors.Is(err, ErrInvalidFormat) {
			// Not ready after all. Start the stability gate over.
			c.log.Warn("Code file content has unrecognized shape, continuing to poll")
		} else {
			c.log.Warn("Failed to read code file", zap.Error(err))
		}
		lastSize, stable = -1, 0
		if err := c.pause(ctx, c.cfg.PollInterval); err != nil {
			return Code{}, err
		}
	}
}

// readStable parses the code out of a file believed stable. Read failures and
// empty content are retried a bounded number of times with a short delay to
// tolerate a producer that is still flushing; an invalid shape is returned
// immediately so the caller can resume polling.
func (c *Channel) readStable(ctx context.Context) (Code, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.ParseAttempts; attempt++ {
		if attempt > 0 {
			if err := c.pause(ctx, c.cfg.ParseRetryDelay); err != nil {
				return Code{}, err
			}
		}

		candidate, err := c.readFirstField()
		if err != nil {
			lastErr = err
			continue
		}

		if !ValidFormat(candidate) {
			return Code{}, fmt.Errorf("%q: %w", candidate, ErrInvalidFormat)
		}
		return Code{Value: candidate, ObservedAt: c.now()}, nil
	}
	return Code{}, fmt.Errorf("giving up after %d read attempts: %w", c.cfg.ParseAttempts, lastErr)
}

// readFirstField returns the first field of the first record, whitespace
// stripped, case preserved.
func (c *Channel) readFirstField() (string, error) {
	data, err := afero.ReadFile(c.fs, c.cfg.Path)
	if err != nil {
		return "", err
	}

	// Strip a UTF-8 BOM; spreadsheet exports often carry one.
	text := strings.TrimPrefix(string(data), "\uFEFF")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("code file is empty")
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	record, err := reader.Read()
	if err != nil {
		return "", fmt.Errorf("failed to parse code file: %w", err)
	}
	if len(record) == 0 {
		return "", fmt.Errorf("code file has no fields")
	}
	return strings.TrimSpace(record[0]), nil
}

// pause sleeps for d unless the context ends first.
func (c *Channel) pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
