package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/ledger"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/service"
	"github.com/Veraticus/fitcheck/internal/testutil"
)

type fakeVision struct {
	analyze func(ctx context.Context, req service.VisionRequest) (model.Analysis, error)
	calls   atomic.Int32
}

func (f *fakeVision) Analyze(ctx context.Context, req service.VisionRequest) (model.Analysis, error) {
	f.calls.Add(1)
	return f.analyze(ctx, req)
}

type fakeSpeech struct {
	err  error
	mu   sync.Mutex
	reqs []service.SpeechRequest
}

func (f *fakeSpeech) Synthesize(_ context.Context, req service.SpeechRequest) (model.AudioClip, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return model.AudioClip{}, f.err
	}
	return model.AudioClip{Path: "/tmp/critique.mp3", Format: "mp3", Bytes: 2048}, nil
}

type fakeSearch struct {
	search  func(ctx context.Context, query string) ([]model.SearchResult, error)
	mu      sync.Mutex
	queries []string
}

func (f *fakeSearch) Search(ctx context.Context, query string, _ int, _ string) ([]model.SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.search(ctx, query)
}

func (f *fakeSearch) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type fakePlayer struct {
	paused atomic.Int32
}

func (p *fakePlayer) Pause() { p.paused.Add(1) }

func outfitAnalysis(queries ...string) model.Analysis {
	a := model.Analysis{
		OverallComment: "Strong silhouette, the colors fight each other.",
		Items: []model.Item{
			{Name: "navy blazer", Category: "outerwear", Comment: "Fits well."},
		},
	}
	for i, q := range queries {
		a.Suggestions = append(a.Suggestions, model.FashionSuggestion{
			ID:          fmt.Sprintf("sug-%d", i),
			ItemName:    q,
			Reasoning:   "Adds contrast.",
			SearchQuery: q,
		})
	}
	return a
}

func returnsAnalysis(a model.Analysis) func(context.Context, service.VisionRequest) (model.Analysis, error) {
	return func(context.Context, service.VisionRequest) (model.Analysis, error) {
		return a, nil
	}
}

func imageHits(query string, n int) []model.SearchResult {
	out := make([]model.SearchResult, n)
	for i := range out {
		out[i] = model.SearchResult{
			Title:    fmt.Sprintf("%s %d", query, i),
			ImageURL: fmt.Sprintf("https://img.example.com/%d.jpg", i),
		}
	}
	return out
}

type harness struct {
	workflow *Workflow
	ledger   *ledger.Ledger
	vision   *fakeVision
	speech   *fakeSpeech
	search   *fakeSearch
	player   *fakePlayer
}

func newHarness(t *testing.T, freeCredits int, cfg Config) *harness {
	t.Helper()

	store := testutil.SetupTestDB(t)

	l, err := ledger.Open(context.Background(), store, ledger.Config{FreeCredits: freeCredits}, nil)
	require.NoError(t, err)
	t.Cleanup(l.Close)

	h := &harness{
		ledger: l,
		vision: &fakeVision{analyze: returnsAnalysis(outfitAnalysis())},
		speech: &fakeSpeech{},
		search: &fakeSearch{search: func(_ context.Context, q string) ([]model.SearchResult, error) {
			return imageHits(q, 3), nil
		}},
		player: &fakePlayer{},
	}

	w, err := NewWorkflow(Deps{
		Ledger: l,
		Vision: h.vision,
		Speech: h.speech,
		Search: h.search,
		Player: h.player,
	}, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	h.workflow = w
	return h
}

func validRequest() Request {
	return Request{
		Image:    []byte{0xff, 0xd8, 0xff},
		MimeType: "image/jpeg",
		Occasion: model.Occasion{Preset: model.OccasionWork},
		Tone:     model.ToneBalanced,
	}
}

func fastConfig() Config {
	return Config{StageTimeout: time.Second, SearchDelay: time.Millisecond}
}

func waitEnrichment(t *testing.T, w *Workflow) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.WaitEnrichment(ctx))
}

func TestNewWorkflow_RequiresDependencies(t *testing.T) {
	_, err := NewWorkflow(Deps{}, Config{}, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestStart_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing image", func(r *Request) { r.Image = nil }},
		{"missing occasion", func(r *Request) { r.Occasion = model.Occasion{} }},
		{"blank custom occasion", func(r *Request) {
			r.Occasion = model.Occasion{Preset: model.OccasionCustom, Custom: "   "}
		}},
		{"unknown tone", func(r *Request) { r.Tone = "sarcastic" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3, fastConfig())
			before := h.workflow.Snapshot()

			req := validRequest()
			tt.mutate(&req)
			_, err := h.workflow.Start(context.Background(), req)

			require.ErrorIs(t, err, common.ErrValidation)
			assert.Equal(t, 3, h.ledger.Remaining())
			assert.Equal(t, int32(0), h.vision.calls.Load())
			assert.Equal(t, before, h.workflow.Snapshot())
		})
	}
}

func TestStart_InsufficientCredits(t *testing.T) {
	h := newHarness(t, 0, fastConfig())

	session, err := h.workflow.Start(context.Background(), validRequest())

	require.ErrorIs(t, err, common.ErrInsufficientCredits)
	assert.Equal(t, model.StageIdle, session.Stage)
	assert.Equal(t, int32(0), h.vision.calls.Load())
	assert.Equal(t, 0, h.ledger.Remaining())
}

func TestStart_Success(t *testing.T) {
	h := newHarness(t, 3, fastConfig())
	h.vision.analyze = returnsAnalysis(outfitAnalysis("red scarf"))

	req := validRequest()
	req.Tone = model.ToneBrutal
	req.Language = "fr"
	session, err := h.workflow.Start(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.StageComplete, session.Stage)
	assert.True(t, session.HasResult())
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "mp3", session.Audio.Format)
	assert.Equal(t, 2, h.ledger.Remaining())

	require.Len(t, h.speech.reqs, 1)
	assert.Equal(t, "Strong silhouette, the colors fight each other.", h.speech.reqs[0].Text)
	assert.Equal(t, model.ToneBrutal.Voice(), h.speech.reqs[0].Voice)
	assert.Equal(t, "fr", h.speech.reqs[0].Language)

	waitEnrichment(t, h.workflow)
	final := h.workflow.Snapshot()
	assert.Equal(t, model.StageComplete, final.Enrichment)
	require.Len(t, final.Result.Suggestions, 1)
	assert.Len(t, final.Result.Suggestions[0].Results, 3)
	assert.Equal(t, 1, final.EnrichedCount())
}

func TestStart_NoSuggestionsCompletesEnrichment(t *testing.T) {
	h := newHarness(t, 1, fastConfig())

	session, err := h.workflow.Start(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, model.StageComplete, session.Enrichment)
	assert.Empty(t, h.search.seen())
}

func TestStart_FatalFailuresRefund(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*harness)
		cause     error
	}{
		{
			name: "vision network failure",
			configure: func(h *harness) {
				h.vision.analyze = func(context.Context, service.VisionRequest) (model.Analysis, error) {
					return model.Analysis{}, fmt.Errorf("%w: connection reset", common.ErrNetwork)
				}
			},
			cause: common.ErrNetwork,
		},
		{
			name: "vision rejects key",
			configure: func(h *harness) {
				h.vision.analyze = func(context.Context, service.VisionRequest) (model.Analysis, error) {
					return model.Analysis{}, common.ErrInvalidCredentials
				}
			},
			cause: common.ErrInvalidCredentials,
		},
		{
			name: "speech quota",
			configure: func(h *harness) {
				h.speech.err = fmt.Errorf("%w: slow down", common.ErrQuotaExceeded)
			},
			cause: common.ErrQuotaExceeded,
		},
		{
			name: "vision timeout",
			configure: func(h *harness) {
				h.vision.analyze = func(ctx context.Context, _ service.VisionRequest) (model.Analysis, error) {
					<-ctx.Done()
					return model.Analysis{}, ctx.Err()
				}
			},
			cause: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3, Config{StageTimeout: 20 * time.Millisecond})
			tt.configure(h)

			session, err := h.workflow.Start(context.Background(), validRequest())

			require.ErrorIs(t, err, common.ErrRemoteFatal)
			assert.ErrorIs(t, err, tt.cause)
			assert.Equal(t, model.StageIdle, session.Stage)
			assert.False(t, session.HasResult())
			assert.NotEmpty(t, session.LastError)
			assert.Equal(t, 3, h.ledger.Remaining())
		})
	}
}

func TestStart_RefundsWhenCallerCancels(t *testing.T) {
	h := newHarness(t, 3, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	h.vision.analyze = func(context.Context, service.VisionRequest) (model.Analysis, error) {
		cancel()
		return model.Analysis{}, context.Canceled
	}

	_, err := h.workflow.Start(ctx, validRequest())

	require.ErrorIs(t, err, common.ErrRemoteFatal)
	assert.Equal(t, 3, h.ledger.Remaining())
}

func TestEnrichment_PartialFailure(t *testing.T) {
	h := newHarness(t, 3, fastConfig())
	h.vision.analyze = returnsAnalysis(outfitAnalysis("red scarf", "leather boots"))
	h.search.search = func(_ context.Context, q string) ([]model.SearchResult, error) {
		if q == "leather boots" {
			return nil, fmt.Errorf("%w: 503", common.ErrNetwork)
		}
		return imageHits(q, 3), nil
	}

	_, err := h.workflow.Start(context.Background(), validRequest())
	require.NoError(t, err)
	waitEnrichment(t, h.workflow)

	session := h.workflow.Snapshot()
	assert.Equal(t, model.StageComplete, session.Enrichment)
	require.Len(t, session.Result.Suggestions, 2)
	assert.Len(t, session.Result.Suggestions[0].Results, 3)
	assert.Empty(t, session.Result.Suggestions[1].Results)
	assert.Equal(t, []string{"red scarf", "leather boots"}, h.search.seen())
}

func TestEnrichment_SuggestionsWithoutIDs(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
	}{
		{name: "missing ids", ids: []string{"", ""}},
		{name: "duplicate ids", ids: []string{"look", "look"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3, fastConfig())
			analysis := outfitAnalysis("red scarf", "leather boots")
			for i := range analysis.Suggestions {
				analysis.Suggestions[i].ID = tt.ids[i]
			}
			h.vision.analyze = returnsAnalysis(analysis)
			h.search.search = func(_ context.Context, q string) ([]model.SearchResult, error) {
				if q == "leather boots" {
					return imageHits(q, 1), nil
				}
				return imageHits(q, 3), nil
			}

			_, err := h.workflow.Start(context.Background(), validRequest())
			require.NoError(t, err)
			waitEnrichment(t, h.workflow)

			session := h.workflow.Snapshot()
			require.Len(t, session.Result.Suggestions, 2)
			scarf, boots := session.Result.Suggestions[0], session.Result.Suggestions[1]
			assert.NotEmpty(t, scarf.ID)
			assert.NotEmpty(t, boots.ID)
			assert.NotEqual(t, scarf.ID, boots.ID)

			require.Len(t, scarf.Results, 3)
			assert.Equal(t, "red scarf 0", scarf.Results[0].Title)
			require.Len(t, boots.Results, 1)
			assert.Equal(t, "leather boots 0", boots.Results[0].Title)

			// The collaborator's own analysis is left untouched.
			assert.Equal(t, tt.ids[0], analysis.Suggestions[0].ID)
		})
	}
}

func TestEnrichment_AllSearchesFail(t *testing.T) {
	h := newHarness(t, 3, fastConfig())
	h.vision.analyze = returnsAnalysis(outfitAnalysis("a", "b", "c"))
	h.search.search = func(context.Context, string) ([]model.SearchResult, error) {
		return nil, common.ErrQuotaExceeded
	}

	_, err := h.workflow.Start(context.Background(), validRequest())
	require.NoError(t, err)
	waitEnrichment(t, h.workflow)

	session := h.workflow.Snapshot()
	assert.Equal(t, model.StageComplete, session.Stage)
	assert.Equal(t, model.StageComplete, session.Enrichment)
	assert.Equal(t, 0, session.EnrichedCount())
	assert.Len(t, h.search.seen(), 3)
}

func TestEnrichment_NewSessionDiscardsStaleResults(t *testing.T) {
	h := newHarness(t, 3, fastConfig())

	blocked := make(chan struct{})
	h.vision.analyze = returnsAnalysis(outfitAnalysis("old hat"))
	h.search.search = func(ctx context.Context, q string) ([]model.SearchResult, error) {
		if q == "old hat" {
			close(blocked)
			<-ctx.Done()
			return imageHits(q, 3), nil
		}
		return imageHits(q, 2), nil
	}

	_, err := h.workflow.Start(context.Background(), validRequest())
	require.NoError(t, err)
	<-blocked

	h.vision.analyze = returnsAnalysis(model.Analysis{
		OverallComment: "Much better.",
		Suggestions: []model.FashionSuggestion{
			{ID: "new-1", ItemName: "new belt", SearchQuery: "new belt"},
		},
	})
	second, err := h.workflow.Start(context.Background(), validRequest())
	require.NoError(t, err)
	waitEnrichment(t, h.workflow)

	session := h.workflow.Snapshot()
	assert.Equal(t, second.ID, session.ID)
	require.Len(t, session.Result.Suggestions, 1)
	assert.Equal(t, "new-1", session.Result.Suggestions[0].ID)
	assert.Len(t, session.Result.Suggestions[0].Results, 2)
	assert.Equal(t, 1, h.ledger.Remaining())
}

func TestStart_ConcurrentStartRejected(t *testing.T) {
	h := newHarness(t, 3, fastConfig())

	entered := make(chan struct{})
	release := make(chan struct{})
	h.vision.analyze = func(context.Context, service.VisionRequest) (model.Analysis, error) {
		close(entered)
		<-release
		return outfitAnalysis(), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.workflow.Start(context.Background(), validRequest())
		done <- err
	}()
	<-entered

	assert.Equal(t, model.StageAnalyzing, h.workflow.Snapshot().Stage)

	_, err := h.workflow.Start(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrSessionInProgress)
	assert.ErrorIs(t, h.workflow.ResetOutputs(), ErrSessionInProgress)
	assert.ErrorIs(t, h.workflow.ResetAll(), ErrSessionInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, h.ledger.Remaining())
}

func TestResetOutputs(t *testing.T) {
	h := newHarness(t, 3, fastConfig())
	h.vision.analyze = returnsAnalysis(outfitAnalysis("red scarf"))

	req := validRequest()
	req.Tone = model.ToneGentle
	_, err := h.workflow.Start(context.Background(), req)
	require.NoError(t, err)
	waitEnrichment(t, h.workflow)

	require.NoError(t, h.workflow.ResetOutputs())

	session := h.workflow.Snapshot()
	assert.Equal(t, model.StageIdle, session.Stage)
	assert.False(t, session.HasResult())
	assert.Empty(t, session.Result.Suggestions)
	assert.True(t, session.Audio.IsZero())
	assert.Equal(t, req.Image, session.Image)
	assert.Equal(t, model.ToneGentle, session.Tone)
	assert.Equal(t, req.Occasion, session.Occasion)
	assert.Equal(t, int32(1), h.player.paused.Load())
}

func TestResetAll(t *testing.T) {
	h := newHarness(t, 3, Config{Language: "de"})

	req := validRequest()
	req.Tone = model.ToneBrutal
	req.Language = "it"
	_, err := h.workflow.Start(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, h.workflow.ResetAll())

	session := h.workflow.Snapshot()
	assert.Empty(t, session.Image)
	assert.True(t, session.Occasion.IsZero())
	assert.Equal(t, model.ToneBalanced, session.Tone)
	assert.Equal(t, "de", session.Language)
	assert.Equal(t, model.StageIdle, session.Stage)
	assert.Equal(t, int32(1), h.player.paused.Load())
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	h := newHarness(t, 3, fastConfig())
	h.vision.analyze = returnsAnalysis(outfitAnalysis("red scarf"))

	_, err := h.workflow.Start(context.Background(), validRequest())
	require.NoError(t, err)
	waitEnrichment(t, h.workflow)

	snap := h.workflow.Snapshot()
	snap.Image[0] = 0x00
	snap.Result.Suggestions[0].Results[0].Title = "mutated"
	snap.Result.Items[0].Name = "mutated"

	fresh := h.workflow.Snapshot()
	assert.Equal(t, byte(0xff), fresh.Image[0])
	assert.Equal(t, "red scarf 0", fresh.Result.Suggestions[0].Results[0].Title)
	assert.Equal(t, "navy blazer", fresh.Result.Items[0].Name)
}

func TestSubscribe_ReceivesStages(t *testing.T) {
	h := newHarness(t, 3, fastConfig())
	updates, unsubscribe := h.workflow.Subscribe()
	defer unsubscribe()

	_, err := h.workflow.Start(context.Background(), validRequest())
	require.NoError(t, err)

	var stages []model.Stage
	timeout := time.After(2 * time.Second)
	for len(stages) < 2 {
		select {
		case s := <-updates:
			stages = append(stages, s.Stage)
		case <-timeout:
			t.Fatalf("timed out waiting for updates, got %v", stages)
		}
	}
	assert.Equal(t, []model.Stage{model.StageAnalyzing, model.StageComplete}, stages)
}

func TestWaitEnrichment_HonoursContext(t *testing.T) {
	h := newHarness(t, 3, fastConfig())
	h.vision.analyze = returnsAnalysis(outfitAnalysis("slow query"))
	h.search.search = func(ctx context.Context, _ string) ([]model.SearchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := h.workflow.Start(context.Background(), validRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = h.workflow.WaitEnrichment(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, model.StageSearchingImages, h.workflow.Snapshot().Enrichment)
}
