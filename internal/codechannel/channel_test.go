// internal/codechannel/channel_test.go
package codechannel

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/aviatools/unipix-etl/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingFs counts file opens so tests can assert on parse attempts.
type countingFs struct {
	afero.Fs
	opens int
}

func (c *countingFs) Open(name string) (afero.File, error) {
	c.opens++
	return c.Fs.Open(name)
}

func testChannelConfig() config.ChannelConfig {
	return config.ChannelConfig{
		Path:            "/shared/cod_unipix.csv",
		PollInterval:    time.Millisecond,
		StableThreshold: 3,
		ParseAttempts:   5,
		ParseRetryDelay: time.Millisecond,
	}
}

func TestValidFormat(t *testing.T) {
	valid := []string{
		"AB1-2C3-9ZZ", // three hyphen separated alnum groups
		"abc-def-ghi",
		"ABC123",    // 6 alnum
		"a1b2c3d4e", // 9 alnum
		"123456",    // 6 digits
		"1234567",
	}
	invalid := []string{
		"",
		"12345",       // too short
		"abcde",       // 5 alnum
		"0123456789",  // 10 chars
		"AB-CD-EF",    // groups of 2
		"ABC-DEF-GH",  // last group short
		"ABC DEF GHI", // spaces
		"ABC-DEF-GH!", // punctuation
		"um códig0",
	}

	for _, code := range valid {
		assert.True(t, ValidFormat(code), "expected %q to be accepted", code)
	}
	for _, code := range invalid {
		assert.False(t, ValidFormat(code), "expected %q to be rejected", code)
	}
}

func TestAwaitCodeReadsStableFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/shared/cod_unipix.csv", []byte("H7K-2MQ-9XZ\n"), 0o644))

	ch := NewWithFs(fs, testChannelConfig(), zap.NewNop())

	code, err := ch.AwaitCode(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "H7K-2MQ-9XZ", code.Value)
	assert.False(t, code.ObservedAt.IsZero())
}

func TestAwaitCodeParsesOnceWhenStable(t *testing.T) {
	counting := &countingFs{Fs: afero.NewMemMapFs()}
	require.NoError(t, afero.WriteFile(counting, "/shared/cod_unipix.csv", []byte("483921"), 0o644))

	ch := NewWithFs(counting, testChannelConfig(), zap.NewNop())

	code, err := ch.AwaitCode(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "483921", code.Value)
	assert.Equal(t, 1, counting.opens, "a stable file should be parsed exactly once")
}

func TestAwaitCodeWaitsForFileToAppear(t *testing.T) {
	fs := afero.NewMemMapFs()
	ch := NewWithFs(fs, testChannelConfig(), zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(10 * time.Millisecond)
		_ = afero.WriteFile(fs, "/shared/cod_unipix.csv", []byte("XK29PZ\n"), 0o644)
	}()

	code, err := ch.AwaitCode(context.Background(), time.Second)
	<-done
	require.NoError(t, err)
	assert.Equal(t, "XK29PZ", code.Value)
}

func TestAwaitCodeTimesOutOnMissingFile(t *testing.T) {
	ch := NewWithFs(afero.NewMemMapFs(), testChannelConfig(), zap.NewNop())

	_, err := ch.AwaitCode(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestAwaitCodeRejectsInvalidShape(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/shared/cod_unipix.csv", []byte("not a code at all\n"), 0o644))

	ch := NewWithFs(fs, testChannelConfig(), zap.NewNop())

	_, err := ch.AwaitCode(context.Background(), 30*time.Millisecond)
	require.ErrorIs(t, err, ErrUnavailable, "an invalid shape must never be returned as a code")
}

func TestAwaitCodeTakesFirstFieldOfFirstRecord(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "\uFEFF  912834 , ignored\nother,row\n"
	require.NoError(t, afero.WriteFile(fs, "/shared/cod_unipix.csv", []byte(content), 0o644))

	ch := NewWithFs(fs, testChannelConfig(), zap.NewNop())

	code, err := ch.AwaitCode(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "912834", code.Value)
}

func TestAwaitCodeHonorsContextCancellation(t *testing.T) {
	ch := NewWithFs(afero.NewMemMapFs(), testChannelConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ch.AwaitCode(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
