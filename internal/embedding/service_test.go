package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingModel records every batch it is asked to embed.
type countingModel struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (m *countingModel) Name() string    { return "counting" }
func (m *countingModel) Version() string { return "counting-v1" }
func (m *countingModel) Dimensions() int { return 3 }
func (m *countingModel) Close() error    { return nil }

func (m *countingModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]string(nil), texts...))
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (m *countingModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

type mapCache struct {
	vectors map[string][]float32
	getErr  error
	puts    int
}

func (c *mapCache) GetVectors(ctx context.Context, modelVersion string, keys []string) (map[string][]float32, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	out := make(map[string][]float32)
	for _, k := range keys {
		if v, ok := c.vectors[modelVersion+"/"+k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (c *mapCache) PutVectors(ctx context.Context, modelVersion string, vectors map[string][]float32) error {
	c.puts++
	for k, v := range vectors {
		c.vectors[modelVersion+"/"+k] = v
	}
	return nil
}

func TestEmbedBatch_EmptyInputSkipsProvider(t *testing.T) {
	model := &countingModel{}
	svc := NewServiceWithModel(model, zerolog.Nop())

	out, err := svc.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, model.calls())
}

func TestEmbedBatch_SingleCallPreservesOrder(t *testing.T) {
	model := &countingModel{}
	svc := NewServiceWithModel(model, zerolog.Nop())

	out, err := svc.EmbedBatch(context.Background(), []string{"aa", "", "bbbb", "aa"})
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, 1, model.calls())
	assert.Equal(t, []string{"aa", "bbbb"}, model.batches[0], "blank texts skipped, duplicates sent once")
	assert.Equal(t, float32(2), out[0][0])
	assert.Equal(t, []float32{0, 0, 0}, out[1])
	assert.Equal(t, float32(4), out[2][0])
	assert.Equal(t, out[0], out[3])
}

func TestEmbedBatch_AllBlankSkipsProvider(t *testing.T) {
	model := &countingModel{}
	svc := NewServiceWithModel(model, zerolog.Nop())

	out, err := svc.EmbedBatch(context.Background(), []string{"", "  "})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Zero(t, model.calls())
}

func TestEmbedBatch_PropagatesProviderError(t *testing.T) {
	model := &countingModel{err: errors.New("timeout")}
	svc := NewServiceWithModel(model, zerolog.Nop())

	_, err := svc.EmbedBatch(context.Background(), []string{"run park"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

// blockingModel waits for release, or for its context to end.
type blockingModel struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (m *blockingModel) Name() string    { return "blocking" }
func (m *blockingModel) Version() string { return "blocking-v1" }
func (m *blockingModel) Dimensions() int { return 2 }
func (m *blockingModel) Close() error    { return nil }

func (m *blockingModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.calls.Add(1) == 1 {
		close(m.started)
	}
	select {
	case <-m.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestEmbedBatch_CancelledCallerDoesNotFailSharedBatch(t *testing.T) {
	model := &blockingModel{started: make(chan struct{}), release: make(chan struct{})}
	svc := NewServiceWithModel(model, zerolog.Nop())
	texts := []string{"run park"}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.EmbedBatch(firstCtx, texts)
		firstErr <- err
	}()
	<-model.started

	type result struct {
		vecs [][]float32
		err  error
	}
	second := make(chan result, 1)
	go func() {
		vecs, err := svc.EmbedBatch(context.Background(), texts)
		second <- result{vecs, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(model.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, [][]float32{{1, 0}}, res.vecs)
	case <-time.After(2 * time.Second):
		t.Fatal("shared caller did not return")
	}
	assert.Equal(t, int32(1), model.calls.Load(), "both callers shared one provider call")
}

func TestEmbedBatch_UsesCache(t *testing.T) {
	model := &countingModel{}
	cache := &mapCache{vectors: map[string][]float32{}}
	svc := NewServiceWithModel(model, zerolog.Nop())
	svc.SetCache(cache)

	ctx := context.Background()
	_, err := svc.EmbedBatch(ctx, []string{"run park", "drink water"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.puts)

	out, err := svc.EmbedBatch(ctx, []string{"drink water", "sleep early"})
	require.NoError(t, err)
	require.Len(t, model.batches, 2)
	assert.Equal(t, []string{"sleep early"}, model.batches[1])
	assert.Equal(t, float32(len("drink water")), out[0][0])
}

func TestEmbedBatch_CacheFailureFallsBackToProvider(t *testing.T) {
	model := &countingModel{}
	cache := &mapCache{vectors: map[string][]float32{}, getErr: errors.New("db down")}
	svc := NewServiceWithModel(model, zerolog.Nop())
	svc.SetCache(cache)

	out, err := svc.EmbedBatch(context.Background(), []string{"run park"})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, model.calls())
}

func TestNewService_DefaultProviderIsBuiltin(t *testing.T) {
	svc, err := NewService("", Options{}, zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, HashingModelVersion, svc.Version())
	assert.Equal(t, HashingDefaultDimension, svc.Dimensions())
}

func TestNewService_UnknownProvider(t *testing.T) {
	_, err := NewService("nope", Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestListModels(t *testing.T) {
	versions := []string{}
	for _, m := range ListModels() {
		versions = append(versions, m.Version)
	}
	assert.Equal(t, []string{HashingModelVersion, OpenAIModelVersion}, versions)
}

func TestHashingModel_SharedVocabularyScoresHigher(t *testing.T) {
	model, err := newHashingModel(Options{})
	require.NoError(t, err)

	vecs, err := model.EmbedBatch(context.Background(), []string{"run 5k three times week", "run three 5k sessions weekly", "call mom sunday"})
	require.NoError(t, err)

	dot := func(a, b []float32) float32 {
		var s float32
		for i := range a {
			s += a[i] * b[i]
		}
		return s
	}
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestOpenAIModel_EmbedBatch(t *testing.T) {
	var gotReq openAIEmbedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		// Deliberately out of order; the client sorts by index.
		_, _ = w.Write([]byte(`{"model":"m","data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	model, err := newOpenAIModel(Options{BaseURL: server.URL + "/", APIKey: "secret", ModelName: "m", Dimensions: 2})
	require.NoError(t, err)

	out, err := model.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)
	assert.Equal(t, []string{"first", "second"}, gotReq.Input)
	assert.Equal(t, 2, gotReq.Dimensions)
}

func TestOpenAIModel_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	model, err := newOpenAIModel(Options{BaseURL: server.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = model.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
}

func TestOpenAIModel_RequiresAPIKey(t *testing.T) {
	_, err := newOpenAIModel(Options{})
	assert.Error(t, err)
}
