package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCompleter struct {
	mu       sync.Mutex
	requests []Request
	replies  []reply
}

type reply struct {
	text string
	err  error
}

func (r *recordingCompleter) Complete(ctx context.Context, req Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if len(r.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	next := r.replies[0]
	r.replies = r.replies[1:]
	return next.text, next.err
}

type blockingCompleter struct{}

func (blockingCompleter) Complete(ctx context.Context, req Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type staticHealth struct {
	up     bool
	models []string
}

func (s staticHealth) IsAvailable(context.Context) bool { return s.up }

func (s staticHealth) HasModel(_ context.Context, model string) bool {
	for _, m := range s.models {
		if m == model {
			return true
		}
	}
	return false
}

func TestCompleteUsesTaskProfile(t *testing.T) {
	c := &recordingCompleter{replies: []reply{{text: "hola"}}}
	d := NewDispatcher(c, DefaultProfiles("phi3:mini"), nil, nil)

	out, err := d.Complete(context.Background(), "p", "s", TaskConversation, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "hola", out)

	require.Len(t, c.requests, 1)
	req := c.requests[0]
	assert.Equal(t, "phi3:mini", req.Model)
	assert.Equal(t, "s", req.System)
	assert.InDelta(t, 0.5, req.Temperature, 1e-6)
	assert.InDelta(t, 0.95, req.TopP, 1e-6)
	assert.Equal(t, 50, req.TopK)
}

func TestUnknownTaskUsesQueriesProfile(t *testing.T) {
	c := &recordingCompleter{replies: []reply{{text: "ok"}}}
	d := NewDispatcher(c, nil, nil, nil)

	_, err := d.Complete(context.Background(), "p", "", Task("mystery"), Overrides{})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, c.requests[0].Temperature, 1e-6)
	assert.Equal(t, 40, c.requests[0].TopK)
}

func TestOverridesWinOverProfile(t *testing.T) {
	c := &recordingCompleter{replies: []reply{{text: "ok"}}}
	d := NewDispatcher(c, nil, nil, nil)

	topK := 5
	_, err := d.Complete(context.Background(), "p", "", TaskQueries, Overrides{Temperature: ptr(float32(0.9)), TopK: &topK})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, c.requests[0].Temperature, 1e-6)
	assert.InDelta(t, 0.9, c.requests[0].TopP, 1e-6)
	assert.Equal(t, 5, c.requests[0].TopK)
}

func TestFailedOrdersCallRetriesWithQueriesProfile(t *testing.T) {
	c := &recordingCompleter{replies: []reply{{err: errors.New("boom")}, {text: "rescued"}}}
	d := NewDispatcher(c, nil, nil, nil)

	out, err := d.Complete(context.Background(), "p", "", TaskOrders, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "rescued", out)
	require.Len(t, c.requests, 2)
	assert.InDelta(t, 0.3, c.requests[0].Temperature, 1e-6)
	assert.InDelta(t, 0.2, c.requests[1].Temperature, 1e-6)
}

func TestFallbackFailureReturnsOriginalError(t *testing.T) {
	first := errors.New("first failure")
	c := &recordingCompleter{replies: []reply{{err: first}, {err: errors.New("second failure")}}}
	d := NewDispatcher(c, nil, nil, nil)

	_, err := d.Complete(context.Background(), "p", "", TaskConversation, Overrides{})
	require.Error(t, err)
	assert.ErrorIs(t, err, first)
	assert.Len(t, c.requests, 2)
}

func TestQueriesFailureIsNotRetried(t *testing.T) {
	c := &recordingCompleter{replies: []reply{{err: errors.New("down")}, {text: "never"}}}
	d := NewDispatcher(c, nil, nil, nil)

	_, err := d.Complete(context.Background(), "p", "", TaskQueries, Overrides{})
	assert.Error(t, err)
	assert.Len(t, c.requests, 1)
}

func TestEmptyCompletionIsAnError(t *testing.T) {
	c := &recordingCompleter{replies: []reply{{text: "   "}}}
	d := NewDispatcher(c, nil, nil, nil)

	_, err := d.Complete(context.Background(), "p", "", TaskQueries, Overrides{})
	assert.ErrorIs(t, err, ErrNoCompletion)
}

func TestTimeoutCancelsCall(t *testing.T) {
	d := NewDispatcher(blockingCompleter{}, nil, nil, nil)

	start := time.Now()
	_, err := d.Complete(context.Background(), "p", "", TaskQueries, Overrides{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCompleteJSONAppendsInstructionAndParses(t *testing.T) {
	c := &recordingCompleter{replies: []reply{{text: "Claro:\n```json\n{\"category\": \"greeting\", \"confidence\": 0.9, \"notes\": \"a } brace\"}\n``` fin {x}"}}}
	d := NewDispatcher(c, nil, nil, nil)

	out, err := d.CompleteJSON(context.Background(), "prompt", "", TaskQueries, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "greeting", out["category"])
	assert.Equal(t, 0.9, out["confidence"])
	assert.Equal(t, "a } brace", out["notes"])
	assert.Contains(t, c.requests[0].Prompt, "Responde SOLO con un JSON válido")
}

func TestCompleteJSONRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"no object":  "no lo sé",
		"unbalanced": "{\"category\": \"greeting\"",
		"bad syntax": "{category: greeting}",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			c := &recordingCompleter{replies: []reply{{text: text}}}
			d := NewDispatcher(c, nil, nil, nil)
			_, err := d.CompleteJSON(context.Background(), "p", "", TaskQueries, Overrides{})
			assert.ErrorIs(t, err, ErrInvalidModelResponse)
		})
	}
}

func TestCompleteJSONWrapsTransportErrors(t *testing.T) {
	down := errors.New("connection refused")
	c := &recordingCompleter{replies: []reply{{err: down}}}
	d := NewDispatcher(c, nil, nil, nil)

	_, err := d.CompleteJSON(context.Background(), "p", "", TaskQueries, Overrides{})
	assert.ErrorIs(t, err, ErrInvalidModelResponse)
	assert.ErrorIs(t, err, down)
}

func TestExtractJSONObject(t *testing.T) {
	span, ok := ExtractJSONObject(`x {"a": {"b": "}"}} y {"c": 1}`)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": "}"}}`, span)

	_, ok = ExtractJSONObject(`"{"`)
	assert.False(t, ok)
}

func TestHealthDelegation(t *testing.T) {
	d := NewDispatcher(&recordingCompleter{}, DefaultProfiles("llama3"), staticHealth{up: true, models: []string{"llama3"}}, nil)
	assert.True(t, d.IsAvailable(context.Background()))
	assert.True(t, d.HasModel(context.Background()))

	d = NewDispatcher(&recordingCompleter{}, nil, staticHealth{}, nil)
	assert.False(t, d.IsAvailable(context.Background()))
	assert.False(t, d.HasModel(context.Background()))
}

func ptr[T any](v T) *T { return &v }

func TestNewDispatcherLeavesCallerProfilesUntouched(t *testing.T) {
	orders := DefaultProfiles("llama3")[TaskOrders]
	profiles := Profiles{TaskOrders: orders}

	c := &recordingCompleter{replies: []reply{{text: "ok"}}}
	d := NewDispatcher(c, profiles, nil, nil)

	assert.Len(t, profiles, 1)
	_, ok := profiles[TaskQueries]
	assert.False(t, ok)

	_, err := d.Complete(context.Background(), "p", "", TaskQueries, Overrides{})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, c.requests[0].Temperature, 1e-6)
}
