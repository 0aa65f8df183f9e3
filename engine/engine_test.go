package engine

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/mittelweg/ares/agent"
	"github.com/mittelweg/ares/chunking"
	"github.com/mittelweg/ares/docstore"
	"github.com/mittelweg/ares/document"
	"github.com/mittelweg/ares/errors"
	"github.com/mittelweg/ares/index"
	"github.com/mittelweg/ares/session"
)

type fakeVector struct {
	mu      sync.Mutex
	entries map[string][]float32
	hits    []index.VectorHit
}

func newFakeVector() *fakeVector {
	return &fakeVector{entries: make(map[string][]float32)}
}

func (f *fakeVector) Query(ctx context.Context, vec []float32, k int) ([]index.VectorHit, error) {
	return f.hits, nil
}

func (f *fakeVector) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[id] = vec
	return nil
}

func (f *fakeVector) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

type fakeKeyword struct {
	mu      sync.Mutex
	entries map[string]string
	hits    []index.KeywordHit
	failOn  string
}

func newFakeKeyword() *fakeKeyword {
	return &fakeKeyword{entries: make(map[string]string)}
}

func (f *fakeKeyword) Query(ctx context.Context, text string, k int) ([]index.KeywordHit, error) {
	return f.hits, nil
}

func (f *fakeKeyword) Upsert(ctx context.Context, id, text string) error {
	if f.failOn != "" && id == f.failOn {
		return stderrors.New("keyword index full")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[id] = text
	return nil
}

func (f *fakeKeyword) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type echoGenerator struct{ answer string }

func (g echoGenerator) Generate(ctx context.Context, query string, candidates []document.SearchCandidate) (string, error) {
	if g.answer != "" {
		return g.answer, nil
	}
	return "generated answer", nil
}

type fixedAuditor struct{ confidence float64 }

func (a fixedAuditor) Audit(ctx context.Context, query, answer string, candidates []document.SearchCandidate) (agent.Audit, error) {
	return agent.Audit{Confidence: a.confidence}, nil
}

type dropDigitsMasker struct{}

func (dropDigitsMasker) Mask(text string) (string, int) {
	count := 0
	masked := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			count++
			return 'X'
		}
		return r
	}, text)
	return masked, count
}

func testCaps(vec *fakeVector, kw *fakeKeyword) Capabilities {
	return Capabilities{
		Vector:    vec,
		Keyword:   kw,
		Embedder:  fixedEmbedder{},
		Store:     docstore.NewInMemory(),
		Chunker:   chunking.NewWindowChunker(40, 10),
		Generator: echoGenerator{},
		Auditor:   fixedAuditor{confidence: 0.9},
	}
}

func TestNewRequiresCoreCapabilities(t *testing.T) {
	caps := testCaps(newFakeVector(), newFakeKeyword())
	caps.Generator = nil
	if _, err := New(caps); !errors.HasKind(err, errors.KindValidation) {
		t.Fatalf("error = %v, want validation kind", err)
	}
	caps = testCaps(newFakeVector(), newFakeKeyword())
	caps.Vector = nil
	if _, err := New(caps); !errors.HasKind(err, errors.KindValidation) {
		t.Fatalf("error = %v, want validation kind", err)
	}
}

func TestIngestIndexesBothSides(t *testing.T) {
	vec := newFakeVector()
	kw := newFakeKeyword()
	caps := testCaps(vec, kw)
	e, err := New(caps, WithRetryAttempts(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := document.ParentDocument{SourceName: "guide.md", FullText: strings.Repeat("words and more ", 10)}
	report, err := e.Ingest(context.Background(), doc)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.ParentID == "" || report.ChunkCount == 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(vec.entries) != report.ChunkCount || len(kw.entries) != report.ChunkCount {
		t.Fatalf("vector=%d keyword=%d chunks=%d", len(vec.entries), len(kw.entries), report.ChunkCount)
	}

	stored, ok, err := caps.Store.Parent(context.Background(), report.ParentID)
	if err != nil || !ok {
		t.Fatalf("Parent: ok=%v err=%v", ok, err)
	}
	if stored.SourceName != "guide.md" {
		t.Fatalf("stored parent = %+v", stored)
	}
	ids, _ := caps.Store.ChunkIDs(context.Background(), report.ParentID)
	if len(ids) != report.ChunkCount {
		t.Fatalf("catalog has %d ids, want %d", len(ids), report.ChunkCount)
	}
}

func TestIngestRejectsEmptyText(t *testing.T) {
	e, err := New(testCaps(newFakeVector(), newFakeKeyword()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.Ingest(context.Background(), document.ParentDocument{FullText: "   "})
	if !errors.HasKind(err, errors.KindIngestion) {
		t.Fatalf("error = %v, want ingestion kind", err)
	}
}

func TestIngestRollsBackVectorOnKeywordFailure(t *testing.T) {
	vec := newFakeVector()
	kw := newFakeKeyword()
	caps := testCaps(vec, kw)
	e, err := New(caps, WithRetryAttempts(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := document.ParentDocument{ID: "doc-1", FullText: strings.Repeat("a", 50)}
	kw.failOn = document.ChunkID("doc-1", 0)

	_, err = e.Ingest(context.Background(), doc)
	if !errors.HasKind(err, errors.KindIngestion) {
		t.Fatalf("error = %v, want ingestion kind", err)
	}
	if _, ok := vec.entries[kw.failOn]; ok {
		t.Fatal("vector entry not rolled back after keyword failure")
	}
}

func TestReingestRemovesStaleEntries(t *testing.T) {
	vec := newFakeVector()
	kw := newFakeKeyword()
	caps := testCaps(vec, kw)
	e, err := New(caps, WithRetryAttempts(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := document.ParentDocument{ID: "doc-1", FullText: strings.Repeat("b", 120)}
	if _, err := e.Ingest(context.Background(), doc); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	before := len(vec.entries)

	// A shorter text produces fewer chunks; the extra ids must go away.
	doc.FullText = strings.Repeat("b", 30)
	report, err := e.Ingest(context.Background(), doc)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if len(vec.entries) != report.ChunkCount || len(kw.entries) != report.ChunkCount {
		t.Fatalf("entries vector=%d keyword=%d want %d (was %d)", len(vec.entries), len(kw.entries), report.ChunkCount, before)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	vec := newFakeVector()
	kw := newFakeKeyword()
	caps := testCaps(vec, kw)
	e, err := New(caps, WithRetryAttempts(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := document.ParentDocument{ID: "doc-1", FullText: strings.Repeat("c", 100)}
	if _, err := e.Ingest(context.Background(), doc); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := e.Delete(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(vec.entries) != 0 || len(kw.entries) != 0 {
		t.Fatalf("entries vector=%d keyword=%d after delete", len(vec.entries), len(kw.entries))
	}
	if _, ok, _ := caps.Store.Parent(context.Background(), "doc-1"); ok {
		t.Fatal("parent still stored after delete")
	}
}

func TestQueryEndToEnd(t *testing.T) {
	vec := newFakeVector()
	kw := newFakeKeyword()
	caps := testCaps(vec, kw)
	caps.Generator = echoGenerator{answer: "The limit is 50 requests per minute [1]."}
	e, err := New(caps, WithRetryAttempts(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := document.ParentDocument{ID: "doc-1", SourceName: "limits.md", FullText: strings.Repeat("rate limit details ", 10)}
	report, err := e.Ingest(context.Background(), doc)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	ids, _ := caps.Store.ChunkIDs(context.Background(), report.ParentID)
	vec.hits = []index.VectorHit{{ChunkID: ids[0], Score: 0.9}}
	kw.hits = []index.KeywordHit{{ChunkID: ids[0], Score: 5}}

	res, err := e.Query(context.Background(), "what is the rate limit?", DefaultQueryOptions())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Status != agent.StatusDone {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Confidence != 0.9 {
		t.Fatalf("confidence = %v", res.Confidence)
	}
	if len(res.Citations) != 1 || res.Citations[0].SourceName != "limits.md" {
		t.Fatalf("citations = %+v", res.Citations)
	}
}

func TestQueryValidation(t *testing.T) {
	e, err := New(testCaps(newFakeVector(), newFakeKeyword()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := e.Query(context.Background(), "  ", QueryOptions{}); !errors.HasKind(err, errors.KindValidation) {
		t.Fatalf("empty query error = %v", err)
	}
	long := strings.Repeat("x", maxQueryRunes+1)
	if _, err := e.Query(context.Background(), long, QueryOptions{}); !errors.HasKind(err, errors.KindValidation) {
		t.Fatalf("oversized query error = %v", err)
	}
	bad := DefaultQueryOptions()
	bad.FusionWeight = 1.5
	if _, err := e.Query(context.Background(), "ok", bad); !errors.HasKind(err, errors.KindValidation) {
		t.Fatalf("bad options error = %v", err)
	}
	bad = DefaultQueryOptions()
	bad.ConfidenceThreshold = 0
	if _, err := e.Query(context.Background(), "ok", bad); !errors.HasKind(err, errors.KindValidation) {
		t.Fatalf("zero threshold error = %v", err)
	}
}

func TestQueryMaskingAndSession(t *testing.T) {
	vec := newFakeVector()
	kw := newFakeKeyword()
	caps := testCaps(vec, kw)
	caps.Masker = dropDigitsMasker{}
	e, err := New(caps, WithRetryAttempts(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sess := session.New()
	ctx := session.NewContext(context.Background(), sess)
	res, err := e.Query(ctx, "account 1234", DefaultQueryOptions())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.MaskedEntities != 4 {
		t.Fatalf("masked = %d", res.MaskedEntities)
	}
	queries := sess.Queries()
	if len(queries) != 1 || queries[0] != "account XXXX" {
		t.Fatalf("session queries = %v", queries)
	}
	if sess.MaskedEntities() != 4 {
		t.Fatalf("session masked = %d", sess.MaskedEntities())
	}
}

func TestQueryNoEvidence(t *testing.T) {
	e, err := New(testCaps(newFakeVector(), newFakeKeyword()),
		WithRetryAttempts(1), WithInsufficientAnswer("no sources ingested"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := e.Query(context.Background(), "anything", DefaultQueryOptions())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Status != agent.StatusInsufficient || res.Answer != "no sources ingested" {
		t.Fatalf("result = %+v", res)
	}
}
