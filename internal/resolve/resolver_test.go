// internal/resolve/resolver_test.go
package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAgent records every attempted action and fails any selector listed in
// failing.
type fakeAgent struct {
	attempts []string
	typed    map[string]string
	clicked  []string
	failing  map[string]bool
}

func newFakeAgent(failing ...string) *fakeAgent {
	f := &fakeAgent{typed: map[string]string{}, failing: map[string]bool{}}
	for _, sel := range failing {
		f.failing[sel] = true
	}
	return f
}

func (f *fakeAgent) Type(_ context.Context, selector, text string) error {
	f.attempts = append(f.attempts, selector)
	if f.failing[selector] {
		return errors.New("element not found")
	}
	f.typed[selector] = text
	return nil
}

func (f *fakeAgent) Click(_ context.Context, selector string) error {
	f.attempts = append(f.attempts, selector)
	if f.failing[selector] {
		return errors.New("element not found")
	}
	f.clicked = append(f.clicked, selector)
	return nil
}

func TestFirstStopsAtFirstSuccess(t *testing.T) {
	agent := newFakeAgent("//input[@name='username']")
	r := New(agent, zap.NewNop())

	used, err := r.TypeInto(context.Background(), []string{
		"//input[@name='username']",
		"//input[@id='username']",
		"//input[@type='text']",
	}, "user@example.com")

	require.NoError(t, err)
	assert.Equal(t, "//input[@id='username']", used.Selector)
	// The third selector must never be attempted after a success.
	assert.Equal(t, []string{"//input[@name='username']", "//input[@id='username']"}, agent.attempts)
	assert.Equal(t, "user@example.com", agent.typed["//input[@id='username']"])
}

func TestFirstTriesEachCandidateOnce(t *testing.T) {
	agent := newFakeAgent("a", "b", "c")
	r := New(agent, zap.NewNop())

	_, err := r.ClickAny(context.Background(), []string{"a", "b", "c"})

	require.ErrorIs(t, err, ErrNoCandidate)
	assert.Equal(t, []string{"a", "b", "c"}, agent.attempts, "each candidate tried exactly once, in order")
	assert.Empty(t, agent.clicked)
}

func TestFirstEmptyList(t *testing.T) {
	r := New(newFakeAgent(), zap.NewNop())
	_, err := r.First(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoCandidate)
}

func TestFirstSuccessPerformsExactlyOneAction(t *testing.T) {
	agent := newFakeAgent()
	r := New(agent, zap.NewNop())

	used, err := r.ClickAny(context.Background(), []string{"//button[@type='submit']", "//button[contains(text(), 'Entrar')]"})

	require.NoError(t, err)
	assert.Equal(t, "//button[@type='submit']", used.Selector)
	assert.Equal(t, []string{"//button[@type='submit']"}, agent.clicked)
}

func TestFirstHonorsContextCancellation(t *testing.T) {
	agent := newFakeAgent()
	r := New(agent, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ClickAny(ctx, []string{"//button"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, agent.attempts)
}
