package mix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mixfm/core/acquire"
	"mixfm/core/audio"
	"mixfm/core/policy"
	"mixfm/core/quota"
	"mixfm/core/staging"
	"mixfm/model"
)

// --- fakes ---

type fakeAcquirer struct {
	audio *model.AcquiredAudio
	err   error
	calls int
}

func (f *fakeAcquirer) Acquire(ctx context.Context, desc model.SourceDescriptor) (*model.AcquiredAudio, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

type fakeProber struct {
	duration float64
	err      error
	coverHit bool
}

func (f *fakeProber) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return f.duration, f.err
}

func (f *fakeProber) ExtractCoverArt(ctx context.Context, in, out string) (bool, error) {
	if !f.coverHit {
		return false, nil
	}
	return true, os.WriteFile(out, []byte("jpeg"), 0644)
}

type fakeComposer struct {
	err    error
	params audio.ComposeParams
}

func (f *fakeComposer) Compose(ctx context.Context, p audio.ComposeParams) error {
	f.params = p
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(p.OutputPath, []byte("composed mp3 bytes"), 0644)
}

type fakeLedger struct {
	used        int64
	precheckErr error
	chargeErr   error
	charged     int64
}

func (f *fakeLedger) State(ctx context.Context, userID, limitBytes int64) (model.QuotaState, error) {
	return model.QuotaState{UserID: userID, BandwidthUsedBytes: f.used, BandwidthLimitBytes: limitBytes}, nil
}

func (f *fakeLedger) Precheck(ctx context.Context, userID, limitBytes int64) error {
	return f.precheckErr
}

func (f *fakeLedger) Charge(ctx context.Context, userID, bytes, limitBytes int64) error {
	if f.chargeErr != nil {
		return f.chargeErr
	}
	f.charged += bytes
	return nil
}

type fakeObjectStore struct {
	objects   map[string][]byte
	uploadErr error
	uploaded  map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte), uploaded: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.uploaded[key] = data
	return "http://cdn.local/static/" + key, nil
}

func (f *fakeObjectStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type fakeMixRepo struct {
	created   []*model.MixRecord
	createErr error
	nextID    int64
}

func (f *fakeMixRepo) Create(ctx context.Context, record *model.MixRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	record.ID = f.nextID
	f.created = append(f.created, record)
	return nil
}

func (f *fakeMixRepo) GetByID(ctx context.Context, id int64) (*model.MixRecord, error) {
	for _, r := range f.created {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeMixRepo) GetAllByUserID(ctx context.Context, userID int64) ([]*model.MixRecord, error) {
	var out []*model.MixRecord
	for _, r := range f.created {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeMixRepo) GetExpired(ctx context.Context, now time.Time, limit int) ([]*model.MixRecord, error) {
	var out []*model.MixRecord
	for _, r := range f.created {
		if r.Expired(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeMixRepo) Delete(ctx context.Context, id int64) error {
	for i, r := range f.created {
		if r.ID == id {
			f.created = append(f.created[:i], f.created[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeJingleRepo struct {
	jingles map[int64]*model.Jingle
}

func (f *fakeJingleRepo) CreateJingle(j *model.Jingle) (int64, error) { return j.ID, nil }
func (f *fakeJingleRepo) GetJingleByID(id int64) (*model.Jingle, error) {
	return f.jingles[id], nil
}
func (f *fakeJingleRepo) GetAllJinglesByUserID(userID int64) ([]*model.Jingle, error) {
	return nil, nil
}
func (f *fakeJingleRepo) DeleteJingle(id, userID int64) error { return nil }

// --- test harness ---

type harness struct {
	orch     *Orchestrator
	staging  *staging.Store
	acquirer *fakeAcquirer
	prober   *fakeProber
	composer *fakeComposer
	ledger   *fakeLedger
	store    *fakeObjectStore
	mixes    *fakeMixRepo
	jingles  *fakeJingleRepo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	base := t.TempDir()
	stagingStore, err := staging.NewStore(filepath.Join(base, "staging"), filepath.Join(base, "covers"))
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		staging:  stagingStore,
		acquirer: &fakeAcquirer{audio: &model.AcquiredAudio{Bytes: []byte("primary"), SuggestedTitle: "Fetched Title"}},
		prober:   &fakeProber{duration: 180},
		composer: &fakeComposer{},
		ledger:   &fakeLedger{},
		store:    newFakeObjectStore(),
		mixes:    &fakeMixRepo{},
		jingles:  &fakeJingleRepo{jingles: map[int64]*model.Jingle{}},
	}

	h.orch = NewOrchestrator(
		map[model.SourceKind]acquire.Acquirer{model.SourceDirectURL: h.acquirer},
		stagingStore, h.prober, h.composer,
		h.ledger, h.store, h.mixes, h.jingles,
		policy.NewLimitsTable(""),
		Options{
			Bitrate:        "192k",
			ComposeTimeout: time.Minute,
			EphemeralTTL:   10 * time.Minute,
			PublicBaseURL:  "http://localhost:8080",
		},
	)
	return h
}

func (h *harness) addJingle(t *testing.T, id, userID int64) {
	t.Helper()
	key := fmt.Sprintf("jingles/%d/j%d.mp3", userID, id)
	h.store.objects[key] = []byte("jingle audio")
	h.jingles.jingles[id] = &model.Jingle{ID: id, UserID: userID, Name: "sting", ObjectKey: key}
}

// stagingFiles lists the file names left in the shared staging root.
func (h *harness) stagingFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.staging.Root())
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func previewRequest(userID int64) *model.MixRequest {
	return &model.MixRequest{
		UserID:      userID,
		Source:      model.SourceDescriptor{Kind: model.SourceDirectURL, URL: "https://example.com/a.mp3", UserID: userID},
		Jingles:     []model.JingleSpec{{JingleID: 1, Position: model.PositionStart, Volume: 1.0}},
		PreviewOnly: true,
	}
}

// --- tests ---

func TestRunRejectsPolicyViolationBeforeAnyIO(t *testing.T) {
	h := newHarness(t)
	req := previewRequest(7)
	req.Jingles = append(req.Jingles, model.JingleSpec{JingleID: 2, Position: model.PositionStart, Volume: 1.0})

	_, err := h.orch.Run(context.Background(), req, model.TierFree)

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != FailPolicy {
		t.Fatalf("expected FailPolicy, got %v", err)
	}
	if h.acquirer.calls != 0 {
		t.Fatal("a denied request must not reach acquisition")
	}
}

func TestRunEphemeralPreview(t *testing.T) {
	h := newHarness(t)
	h.addJingle(t, 1, 7)
	req := previewRequest(7)

	record, err := h.orch.Run(context.Background(), req, model.TierFree)
	if err != nil {
		t.Fatal(err)
	}

	if record.ExpiresAt == nil || record.Durable {
		t.Fatalf("free-tier preview must be ephemeral: %+v", record)
	}
	if record.StagedToken == "" {
		t.Fatal("ephemeral record must keep its staging token")
	}
	if record.OutputURL != "http://localhost:8080/tmp/"+record.StagedToken {
		t.Fatalf("unexpected output URL %s", record.OutputURL)
	}
	if record.Title != "Fetched Title" {
		t.Fatalf("acquired metadata not applied: %q", record.Title)
	}
	if !h.composer.params.PreviewOnly || h.composer.params.PreviewDuration != 30 {
		t.Fatalf("preview truncation not passed to the compositor: %+v", h.composer.params)
	}
	if h.ledger.charged == 0 {
		t.Fatal("artifact bytes were not charged")
	}

	// Only the kept artifact survives; downloaded copies are gone.
	files := h.stagingFiles(t)
	if len(files) != 1 || files[0] != record.StagedToken {
		t.Fatalf("expected only the artifact in staging, got %v", files)
	}
}

func TestRunDurableExport(t *testing.T) {
	h := newHarness(t)
	h.addJingle(t, 1, 7)
	req := previewRequest(7)
	req.PreviewOnly = false
	req.Title = "My Show"

	record, err := h.orch.Run(context.Background(), req, model.TierPro)
	if err != nil {
		t.Fatal(err)
	}

	if !record.Durable || record.ExpiresAt != nil {
		t.Fatalf("pro full export must be durable: %+v", record)
	}
	if record.Title != "My Show" {
		t.Fatal("explicit title must override acquired metadata")
	}
	key := fmt.Sprintf("mixes/%d/", req.UserID)
	found := false
	for k := range h.store.uploaded {
		if len(k) > len(key) && k[:len(key)] == key {
			found = true
		}
	}
	if !found {
		t.Fatalf("artifact not promoted to object storage: %v", h.store.uploaded)
	}

	// Nothing should remain in staging after promotion.
	if files := h.stagingFiles(t); len(files) != 0 {
		t.Fatalf("staging not cleaned after durable export: %v", files)
	}
}

func TestRunCompositionFailureCleansUp(t *testing.T) {
	h := newHarness(t)
	h.addJingle(t, 1, 7)
	h.composer.err = audio.ErrComposition

	_, err := h.orch.Run(context.Background(), previewRequest(7), model.TierFree)

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != FailComposition {
		t.Fatalf("expected FailComposition, got %v", err)
	}
	if h.ledger.charged != 0 {
		t.Fatal("a failed composition must not be charged")
	}
	if files := h.stagingFiles(t); len(files) != 0 {
		t.Fatalf("staging not cleaned after failure: %v", files)
	}
	if len(h.mixes.created) != 0 {
		t.Fatal("no record must be persisted on failure")
	}
}

func TestRunChargeDenialDiscardsArtifact(t *testing.T) {
	h := newHarness(t)
	h.addJingle(t, 1, 7)
	h.ledger.chargeErr = quota.ErrBandwidthExceeded

	_, err := h.orch.Run(context.Background(), previewRequest(7), model.TierFree)

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != FailBandwidth {
		t.Fatalf("expected FailBandwidth, got %v", err)
	}
	if files := h.stagingFiles(t); len(files) != 0 {
		t.Fatalf("denied artifact must be discarded: %v", files)
	}
}

func TestRunPrecheckDenialStopsEarly(t *testing.T) {
	h := newHarness(t)
	h.ledger.precheckErr = quota.ErrBandwidthExceeded

	_, err := h.orch.Run(context.Background(), previewRequest(7), model.TierFree)

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != FailBandwidth {
		t.Fatalf("expected FailBandwidth, got %v", err)
	}
	if h.acquirer.calls != 0 {
		t.Fatal("an over-quota request must not download anything")
	}
}

func TestRunStorageFailureKeepsEphemeralCopy(t *testing.T) {
	h := newHarness(t)
	h.addJingle(t, 1, 7)
	h.store.uploadErr = errors.New("bucket offline")
	req := previewRequest(7)
	req.PreviewOnly = false

	record, err := h.orch.Run(context.Background(), req, model.TierPro)

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != FailStorage {
		t.Fatalf("expected FailStorage, got %v", err)
	}
	if record == nil {
		t.Fatal("the artifact must survive a storage failure")
	}
	if record.Durable || record.ExpiresAt == nil || record.StagedToken == "" {
		t.Fatalf("fallback record must be ephemeral: %+v", record)
	}
	if files := h.stagingFiles(t); len(files) != 1 {
		t.Fatalf("the ephemeral copy must stay servable: %v", files)
	}
}

func TestRunAcquisitionFailure(t *testing.T) {
	h := newHarness(t)
	h.addJingle(t, 1, 7)
	h.acquirer.err = acquire.ErrUnreachableSource

	_, err := h.orch.Run(context.Background(), previewRequest(7), model.TierFree)

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != FailAcquisition {
		t.Fatalf("expected FailAcquisition, got %v", err)
	}
	if files := h.stagingFiles(t); len(files) != 0 {
		t.Fatalf("staging not cleaned: %v", files)
	}
}

func TestRunRejectsForeignJingle(t *testing.T) {
	h := newHarness(t)
	h.addJingle(t, 1, 99) // belongs to another user

	_, err := h.orch.Run(context.Background(), previewRequest(7), model.TierFree)

	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Kind != FailAcquisition {
		t.Fatalf("another user's jingle must be unusable, got %v", err)
	}
}

func TestRunToleratesProbeFailure(t *testing.T) {
	h := newHarness(t)
	h.addJingle(t, 1, 7)
	h.prober.err = errors.New("unreadable header")

	record, err := h.orch.Run(context.Background(), previewRequest(7), model.TierFree)
	if err != nil {
		t.Fatalf("a failed duration probe must not abort a start insert: %v", err)
	}
	if record == nil {
		t.Fatal("expected a record")
	}
	if h.composer.params.PrimaryDuration != 0 {
		t.Fatal("failed probe must surface as zero duration")
	}
}

func TestRunStagedSourceSkipsAcquisition(t *testing.T) {
	h := newHarness(t)
	h.addJingle(t, 1, 7)

	asset, err := h.staging.Save([]byte("uploaded primary"), ".mp3", staging.KindRawAudio, 7)
	if err != nil {
		t.Fatal(err)
	}

	req := previewRequest(7)
	req.Source = model.SourceDescriptor{Kind: model.SourceStaged, UserID: 7}
	req.StagedToken = asset.Token

	if _, err := h.orch.Run(context.Background(), req, model.TierFree); err != nil {
		t.Fatal(err)
	}
	if h.acquirer.calls != 0 {
		t.Fatal("a staged source must not trigger acquisition")
	}
}

func TestReaperRemovesExpiredArtifacts(t *testing.T) {
	h := newHarness(t)

	asset, err := h.staging.Save([]byte("expired artifact"), ".mp3", staging.KindCompositeOutput, 7)
	if err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Minute)
	h.mixes.created = append(h.mixes.created, &model.MixRecord{
		ID: 1, UserID: 7, StagedToken: asset.Token, ExpiresAt: &past,
	})

	reaper := NewReaper(h.mixes, h.staging, time.Minute, time.Hour)
	reaper.Sweep(context.Background())

	if _, err := os.Stat(asset.Path); !os.IsNotExist(err) {
		t.Fatal("expired artifact file should be gone")
	}
	if len(h.mixes.created) != 0 {
		t.Fatal("expired record should be deleted")
	}
}
