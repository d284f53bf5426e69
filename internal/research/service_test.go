package research

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/events"
	"github.com/ruminex/molecule-discovery-service/internal/qdrant"
	"github.com/ruminex/molecule-discovery-service/internal/repository"
)

// stubRunRepo records lifecycle transitions in memory.
type stubRunRepo struct {
	repository.RunRepository
	mu       sync.Mutex
	created  []*domain.ResearchRun
	statuses map[uuid.UUID]domain.RunStatus
	messages map[uuid.UUID]string
	queue    []*domain.ResearchRun
	stale    []*domain.ResearchRun
}

func newStubRunRepo() *stubRunRepo {
	return &stubRunRepo{
		statuses: make(map[uuid.UUID]domain.RunStatus),
		messages: make(map[uuid.UUID]string),
	}
}

func (r *stubRunRepo) Create(_ context.Context, run *domain.ResearchRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, run)
	r.statuses[run.ID] = run.Status
	return nil
}

func (r *stubRunRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.RunStatus, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	r.messages[id] = msg
	return nil
}

func (r *stubRunRepo) ClaimQueued(_ context.Context) (*domain.ResearchRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil, nil
	}
	run := r.queue[0]
	r.queue = r.queue[1:]
	run.Status = domain.RunStatusProcessing
	return run, nil
}

func (r *stubRunRepo) ReclaimStale(_ context.Context, _ time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.stale)
	for _, run := range r.stale {
		r.statuses[run.ID] = domain.RunStatusFailed
		r.messages[run.ID] = "worker lost the run"
	}
	r.stale = nil
	return n, nil
}

func (r *stubRunRepo) status(id uuid.UUID) domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

// memMoleculeRepo deduplicates by normalized name like the real repository.
type memMoleculeRepo struct {
	repository.MoleculeRepository
	mu         sync.Mutex
	byNorm     map[string]*domain.Molecule
	runScores  map[uuid.UUID]float64
	paperLinks []*domain.MoleculePaperLink
}

func newMemMoleculeRepo() *memMoleculeRepo {
	return &memMoleculeRepo{
		byNorm:    make(map[string]*domain.Molecule),
		runScores: make(map[uuid.UUID]float64),
	}
}

func (r *memMoleculeRepo) Upsert(_ context.Context, molecule *domain.Molecule) (*domain.Molecule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byNorm[molecule.NormalizedName]; ok {
		if existing.CASNumber == "" {
			existing.CASNumber = molecule.CASNumber
		}
		if existing.Description == "" {
			existing.Description = molecule.Description
		}
		return existing, nil
	}
	r.byNorm[molecule.NormalizedName] = molecule
	return molecule, nil
}

func (r *memMoleculeRepo) LinkRun(_ context.Context, _ uuid.UUID, moleculeID uuid.UUID, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.runScores[moleculeID]; !ok || score > prev {
		r.runScores[moleculeID] = score
	}
	return nil
}

func (r *memMoleculeRepo) LinkPaper(_ context.Context, link *domain.MoleculePaperLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paperLinks = append(r.paperLinks, link)
	return nil
}

// memSummaryRepo stores summaries keyed by run and PMID.
type memSummaryRepo struct {
	repository.SummaryRepository
	mu    sync.Mutex
	byKey map[string]*domain.PaperSummary
}

func newMemSummaryRepo() *memSummaryRepo {
	return &memSummaryRepo{byKey: make(map[string]*domain.PaperSummary)}
}

func summaryKey(runID uuid.UUID, pmid string) string {
	return runID.String() + "/" + pmid
}

func (r *memSummaryRepo) Create(_ context.Context, summary *domain.PaperSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[summaryKey(summary.ResearchRunID, summary.PubMedID)] = summary
	return nil
}

func (r *memSummaryRepo) GetByRunAndPMID(_ context.Context, runID uuid.UUID, pmid string) (*domain.PaperSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byKey[summaryKey(runID, pmid)]; ok {
		return s, nil
	}
	return nil, domain.NewNotFoundError("summary", pmid)
}

// stubSearcher returns a fixed result set.
type stubSearcher struct {
	papers []*domain.Paper
	err    error
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ int) ([]*domain.Paper, error) {
	return s.papers, s.err
}

// stubPaperExtractor serves canned extractions per PMID.
type stubPaperExtractor struct {
	mu          sync.Mutex
	extractions map[string]*Extraction
	errs        map[string]error
	calls       []string
}

func (e *stubPaperExtractor) Extract(_ context.Context, paper *domain.Paper) (*Extraction, error) {
	e.mu.Lock()
	e.calls = append(e.calls, paper.PubMedID)
	e.mu.Unlock()
	if err, ok := e.errs[paper.PubMedID]; ok {
		return nil, err
	}
	if extraction, ok := e.extractions[paper.PubMedID]; ok {
		return extraction, nil
	}
	return &Extraction{Summary: "no findings"}, nil
}

// stubEmbedder returns one fixed vector per text.
type stubEmbedder struct {
	vector []float32
}

func (e *stubEmbedder) EmbedTexts(_ context.Context, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = e.vector
	}
	return vectors
}

func (e *stubEmbedder) EmbedText(_ context.Context, _ string) []float32 {
	return e.vector
}

// stubStore counts vector upserts per collection.
type stubStore struct {
	mu      sync.Mutex
	upserts map[string]int
}

func newStubStore() *stubStore {
	return &stubStore{upserts: make(map[string]int)}
}

func (s *stubStore) EnsureCollections(_ context.Context) error { return nil }

func (s *stubStore) Upsert(_ context.Context, collection string, _ qdrant.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts[collection]++
	return nil
}

func (s *stubStore) Search(_ context.Context, _ string, _ []float32, _ uint64) ([]qdrant.SearchResult, error) {
	return nil, nil
}

func (s *stubStore) Close() error { return nil }

// recordingPublisher collects published event types.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishRunEvent(_ context.Context, event events.RunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.EventType)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type serviceFixture struct {
	runs      *stubRunRepo
	molecules *memMoleculeRepo
	summaries *memSummaryRepo
	searcher  *stubSearcher
	extractor *stubPaperExtractor
	store     *stubStore
	publisher *recordingPublisher
	service   *Service
}

func newServiceFixture(searcher *stubSearcher, extractor *stubPaperExtractor) *serviceFixture {
	f := &serviceFixture{
		runs:      newStubRunRepo(),
		molecules: newMemMoleculeRepo(),
		summaries: newMemSummaryRepo(),
		searcher:  searcher,
		extractor: extractor,
		store:     newStubStore(),
		publisher: &recordingPublisher{},
	}
	f.service = NewService(Config{}, f.runs, f.molecules, f.summaries,
		searcher, extractor, &stubEmbedder{vector: []float32{0.1, 0.2}},
		f.store, f.publisher, zerolog.Nop(), nil)
	return f
}

func testPaper(pmid, title, abstract string) *domain.Paper {
	return &domain.Paper{
		PubMedID:  pmid,
		Title:     title,
		Abstract:  abstract,
		SourceURL: "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/",
	}
}

func TestServiceStartRun(t *testing.T) {
	ctx := context.Background()

	t.Run("queues run and publishes event", func(t *testing.T) {
		f := newServiceFixture(&stubSearcher{}, &stubPaperExtractor{})

		run, err := f.service.StartRun(ctx, "  methane inhibitors  ")
		require.NoError(t, err)
		assert.Equal(t, "methane inhibitors", run.Query)
		assert.Equal(t, domain.RunStatusQueued, run.Status)
		assert.Equal(t, []string{events.EventRunQueued}, f.publisher.events)
	})

	t.Run("rejects empty query", func(t *testing.T) {
		f := newServiceFixture(&stubSearcher{}, &stubPaperExtractor{})

		_, err := f.service.StartRun(ctx, "   ")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestServiceExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("completes run with verified molecules", func(t *testing.T) {
		papers := []*domain.Paper{
			testPaper("111", "Bromoform in Asparagopsis", "Bromoform reduced methane yield substantially."),
			testPaper("222", "Tannin supplementation", "Quebracho tannin and bromoform were compared in vivo."),
		}
		extractor := &stubPaperExtractor{extractions: map[string]*Extraction{
			"111": {Summary: "Bromoform works.", Molecules: []domain.ExtractedMolecule{
				{Name: "bromoform", RelevanceScore: 0.9, ContextExcerpt: "Bromoform reduced methane yield"},
				{Name: "monensin", RelevanceScore: 0.8}, // not mentioned in the paper
			}},
			"222": {Summary: "Tannins help.", Molecules: []domain.ExtractedMolecule{
				{Name: "quebracho tannin", RelevanceScore: 0.7},
				{Name: "Bromoform", RelevanceScore: 0.5},
			}},
		}}

		f := newServiceFixture(&stubSearcher{papers: papers}, extractor)
		run := domain.NewResearchRun("methane inhibitors")
		run.Status = domain.RunStatusProcessing

		err := f.service.Execute(ctx, run)
		require.NoError(t, err)

		assert.Equal(t, domain.RunStatusComplete, f.runs.status(run.ID))

		// bromoform deduplicated across papers, monensin dropped as unsupported
		assert.Len(t, f.molecules.byNorm, 2)
		assert.Contains(t, f.molecules.byNorm, "bromoform")
		assert.Contains(t, f.molecules.byNorm, "quebracho tannin")
		assert.NotContains(t, f.molecules.byNorm, "monensin")

		// repeat sighting keeps the higher score
		bromoform := f.molecules.byNorm["bromoform"]
		assert.Equal(t, 0.9, f.molecules.runScores[bromoform.ID])

		// one paper link per supported mention
		assert.Len(t, f.molecules.paperLinks, 3)

		// both summaries and both molecules got vectors
		assert.Equal(t, 2, f.store.upserts[qdrant.CollectionSummaries])
		assert.Equal(t, 2, f.store.upserts[qdrant.CollectionMolecules])

		assert.Equal(t, []string{events.EventRunProcessing, events.EventRunComplete}, f.publisher.events)
	})

	t.Run("fails run when search fails", func(t *testing.T) {
		f := newServiceFixture(&stubSearcher{err: errors.New("pubmed unavailable")}, &stubPaperExtractor{})
		run := domain.NewResearchRun("failing query")
		run.Status = domain.RunStatusProcessing

		err := f.service.Execute(ctx, run)
		require.Error(t, err)
		assert.Equal(t, domain.RunStatusFailed, f.runs.status(run.ID))
		assert.Contains(t, f.runs.messages[run.ID], "pubmed unavailable")
		assert.Equal(t, []string{events.EventRunProcessing, events.EventRunFailed}, f.publisher.events)
	})

	t.Run("continues past extraction failures", func(t *testing.T) {
		papers := []*domain.Paper{
			testPaper("111", "Working paper", "Chitosan altered fermentation."),
			testPaper("222", "Broken paper", "Some abstract."),
		}
		extractor := &stubPaperExtractor{
			extractions: map[string]*Extraction{
				"111": {Summary: "ok", Molecules: []domain.ExtractedMolecule{{Name: "chitosan", RelevanceScore: 0.6}}},
			},
			errs: map[string]error{"222": errors.New("model returned garbage")},
		}

		f := newServiceFixture(&stubSearcher{papers: papers}, extractor)
		run := domain.NewResearchRun("resilience")
		run.Status = domain.RunStatusProcessing

		err := f.service.Execute(ctx, run)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusComplete, f.runs.status(run.ID))
		assert.Contains(t, f.molecules.byNorm, "chitosan")
	})

	t.Run("skips papers already processed in the run", func(t *testing.T) {
		papers := []*domain.Paper{
			testPaper("111", "Already done", "Bromoform again."),
			testPaper("222", "New paper", "Nitrate supplementation lowered methane."),
		}
		extractor := &stubPaperExtractor{extractions: map[string]*Extraction{
			"222": {Summary: "nitrate", Molecules: []domain.ExtractedMolecule{{Name: "nitrate", RelevanceScore: 0.8}}},
		}}

		f := newServiceFixture(&stubSearcher{papers: papers}, extractor)
		run := domain.NewResearchRun("resumable")
		run.Status = domain.RunStatusProcessing

		require.NoError(t, f.summaries.Create(ctx, &domain.PaperSummary{
			ID: uuid.New(), ResearchRunID: run.ID, PubMedID: "111",
			Title: "Already done", Summary: "done earlier",
		}))

		err := f.service.Execute(ctx, run)
		require.NoError(t, err)
		assert.NotContains(t, extractor.calls, "111")
		assert.Contains(t, extractor.calls, "222")
	})
}

func TestWorkerPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("executes claimed run", func(t *testing.T) {
		papers := []*domain.Paper{testPaper("111", "Paper", "Nitrate works.")}
		extractor := &stubPaperExtractor{extractions: map[string]*Extraction{
			"111": {Summary: "ok", Molecules: []domain.ExtractedMolecule{{Name: "nitrate", RelevanceScore: 0.5}}},
		}}
		f := newServiceFixture(&stubSearcher{papers: papers}, extractor)

		run := domain.NewResearchRun("queued work")
		f.runs.queue = []*domain.ResearchRun{run}

		worker := NewWorker(f.runs, f.service, time.Minute, time.Minute, zerolog.Nop())
		require.NoError(t, worker.poll(ctx))
		assert.Equal(t, domain.RunStatusComplete, f.runs.status(run.ID))
	})

	t.Run("idles when queue is empty", func(t *testing.T) {
		f := newServiceFixture(&stubSearcher{}, &stubPaperExtractor{})
		worker := NewWorker(f.runs, f.service, time.Minute, time.Minute, zerolog.Nop())
		assert.NoError(t, worker.poll(ctx))
	})

	t.Run("fails stale claims so they become retryable", func(t *testing.T) {
		f := newServiceFixture(&stubSearcher{}, &stubPaperExtractor{})

		stranded := domain.NewResearchRun("stranded work")
		f.runs.statuses[stranded.ID] = domain.RunStatusProcessing
		f.runs.stale = []*domain.ResearchRun{stranded}

		worker := NewWorker(f.runs, f.service, time.Minute, time.Minute, zerolog.Nop())
		worker.reclaimStale(ctx)

		assert.Equal(t, domain.RunStatusFailed, f.runs.status(stranded.ID))
		assert.NotEmpty(t, f.runs.messages[stranded.ID])
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		f := newServiceFixture(&stubSearcher{}, &stubPaperExtractor{})
		worker := NewWorker(f.runs, f.service, time.Millisecond, time.Minute, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := worker.Run(ctx)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
