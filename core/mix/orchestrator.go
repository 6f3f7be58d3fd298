package mix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"mixfm/core/acquire"
	"mixfm/core/audio"
	"mixfm/core/policy"
	"mixfm/core/quota"
	"mixfm/core/staging"
	"mixfm/logger"
	"mixfm/model"
	"mixfm/repository"
	"mixfm/storage"
)

// FailureKind classifies pipeline failures for the web layer. Each kind
// maps to a different HTTP status and remediation path.
type FailureKind string

const (
	FailPolicy      FailureKind = "policy_violation"
	FailAcquisition FailureKind = "acquisition"
	FailComposition FailureKind = "composition"
	FailBandwidth   FailureKind = "bandwidth_exceeded"
	FailStorage     FailureKind = "storage"
	FailInternal    FailureKind = "internal"
)

// PipelineError is the typed failure crossing the pipeline boundary. The
// wrapped error carries diagnostic detail for logs; handlers show users a
// generic message keyed off Kind.
type PipelineError struct {
	Kind FailureKind
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("mix pipeline failed (%s): %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func fail(kind FailureKind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err}
}

// Prober is the metadata extraction dependency.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractCoverArt(ctx context.Context, inputFile, outputFile string) (bool, error)
}

// Composer is the transcoding dependency.
type Composer interface {
	Compose(ctx context.Context, p audio.ComposeParams) error
}

// Options carries the orchestrator's tunables.
type Options struct {
	Bitrate         string
	ComposeTimeout  time.Duration
	DownloadTimeout time.Duration
	EphemeralTTL    time.Duration
	PublicBaseURL   string
}

// Orchestrator coordinates one mix request through the pipeline:
// Validating -> Resolving -> Composing -> Charging -> Disposing -> Done,
// with deterministic cleanup of request-scoped staging on every exit path.
type Orchestrator struct {
	acquirers  map[model.SourceKind]acquire.Acquirer
	staging    *staging.Store
	prober     Prober
	compositor Composer
	ledger     quota.Ledger
	store      storage.ObjectStore
	mixes      repository.MixRepository
	jingles    repository.JingleRepository
	limits     *policy.LimitsTable
	opts       Options
	httpClient *http.Client // thumbnail downloads
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(
	acquirers map[model.SourceKind]acquire.Acquirer,
	stagingStore *staging.Store,
	prober Prober,
	compositor Composer,
	ledger quota.Ledger,
	store storage.ObjectStore,
	mixes repository.MixRepository,
	jingles repository.JingleRepository,
	limits *policy.LimitsTable,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		acquirers:  acquirers,
		staging:    stagingStore,
		prober:     prober,
		compositor: compositor,
		ledger:     ledger,
		store:      store,
		mixes:      mixes,
		jingles:    jingles,
		limits:     limits,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.DownloadTimeout},
	}
}

// resolved holds the staged inputs for one request.
type resolved struct {
	primaryPath     string
	primaryDuration float64 // 0 when the probe failed
	title           string
	artist          string
	jingleInputs    []audio.JingleInput
	coverPath       string
}

// Run executes one mix request against the caller's plan tier.
//
// On a storage promotion failure the artifact is not lost: Run returns the
// ephemeral record together with a FailStorage error so the web layer can
// surface both.
func (o *Orchestrator) Run(ctx context.Context, req *model.MixRequest, tier model.PlanTier) (*model.MixRecord, error) {
	limits := o.limits.Get(tier)

	// Validating. Pure checks first so a denied request costs no I/O.
	if v := policy.Evaluate(limits, req); v != nil {
		return nil, fail(FailPolicy, v)
	}
	if err := o.ledger.Precheck(ctx, req.UserID, limits.BandwidthLimitBytes); err != nil {
		if errors.Is(err, quota.ErrBandwidthExceeded) {
			return nil, fail(FailBandwidth, err)
		}
		return nil, fail(FailInternal, err)
	}

	// Every asset staged for this request is deleted on the way out,
	// success or failure; only the final artifact survives when the
	// disposition keeps it.
	var cleanup []*staging.Asset
	var keep *staging.Asset
	defer func() {
		for _, a := range cleanup {
			if a != keep {
				o.staging.Delete(a)
			}
		}
	}()
	track := func(a *staging.Asset) *staging.Asset {
		cleanup = append(cleanup, a)
		return a
	}

	// Resolving.
	res, perr := o.resolve(ctx, req, limits, track)
	if perr != nil {
		return nil, perr
	}

	// Composing.
	output, err := o.staging.Allocate(".mp3", staging.KindCompositeOutput, req.UserID)
	if err != nil {
		return nil, fail(FailInternal, err)
	}
	track(output)

	composeCtx, cancel := context.WithTimeout(ctx, o.opts.ComposeTimeout)
	err = o.compositor.Compose(composeCtx, audio.ComposeParams{
		PrimaryPath:     res.primaryPath,
		PrimaryDuration: res.primaryDuration,
		Jingles:         res.jingleInputs,
		CoverArtPath:    res.coverPath,
		PreviewOnly:     req.PreviewOnly,
		PreviewDuration: limits.PreviewDurationSeconds,
		OutputPath:      output.Path,
		Bitrate:         o.opts.Bitrate,
	})
	cancel()
	if err != nil {
		return nil, fail(FailComposition, err)
	}

	// Charging, with the real artifact size now that it exists. A denial
	// here discards the artifact; the operation is not a partial success.
	info, err := os.Stat(output.Path)
	if err != nil {
		return nil, fail(FailInternal, fmt.Errorf("output vanished after composition: %w", err))
	}
	outputBytes := info.Size()
	if err := o.ledger.Charge(ctx, req.UserID, outputBytes, limits.BandwidthLimitBytes); err != nil {
		if errors.Is(err, quota.ErrBandwidthExceeded) {
			return nil, fail(FailBandwidth, err)
		}
		return nil, fail(FailInternal, err)
	}

	// Disposing.
	return o.dispose(ctx, req, limits, res, output, outputBytes, &keep)
}

// resolve stages every input: primary audio, each jingle, cover art.
// Jingles are fetched in parallel; composition never starts on a partial
// set.
func (o *Orchestrator) resolve(ctx context.Context, req *model.MixRequest, limits model.PlanLimits, track func(*staging.Asset) *staging.Asset) (*resolved, *PipelineError) {
	res := &resolved{title: req.Title, artist: req.Artist}

	// Primary track.
	var acquired *model.AcquiredAudio
	if req.Source.Kind == model.SourceStaged {
		path, err := o.staging.Resolve(req.StagedToken)
		if err != nil {
			return nil, fail(FailAcquisition, err)
		}
		res.primaryPath = path
	} else {
		acquirer, ok := o.acquirers[req.Source.Kind]
		if !ok {
			return nil, fail(FailAcquisition, fmt.Errorf("%w: unknown source kind %q", acquire.ErrInvalidSourceURL, req.Source.Kind))
		}
		var err error
		acquired, err = acquirer.Acquire(ctx, req.Source)
		if err != nil {
			return nil, fail(FailAcquisition, err)
		}

		asset, err := o.staging.Save(acquired.Bytes, ".mp3", staging.KindRawAudio, req.UserID)
		if err != nil {
			return nil, fail(FailInternal, err)
		}
		track(asset)
		res.primaryPath = asset.Path

		if res.title == "" {
			res.title = acquired.SuggestedTitle
		}
		if res.artist == "" {
			res.artist = acquired.SuggestedArtist
		}
	}

	// Duration probe is advisory; only the middle position needs it, and
	// the compositor enforces that.
	if d, err := o.prober.ProbeDuration(ctx, res.primaryPath); err != nil {
		logger.Warn("duration probe failed, continuing without duration",
			logger.String("path", res.primaryPath),
			logger.ErrorField(err))
	} else {
		res.primaryDuration = d
	}

	// Jingles, in parallel, preserving request order.
	inputs := make([]audio.JingleInput, len(req.Jingles))
	assets := make([]*staging.Asset, len(req.Jingles))
	errs := make([]error, len(req.Jingles))
	var wg sync.WaitGroup
	for i, spec := range req.Jingles {
		wg.Add(1)
		go func(i int, spec model.JingleSpec) {
			defer wg.Done()
			asset, err := o.stageJingle(ctx, req.UserID, spec)
			if err != nil {
				errs[i] = err
				return
			}
			assets[i] = asset
			inputs[i] = audio.JingleInput{Path: asset.Path, Position: spec.Position, Volume: spec.Volume}
		}(i, spec)
	}
	wg.Wait()
	for _, a := range assets {
		if a != nil {
			track(a)
		}
	}
	for _, err := range errs {
		if err != nil {
			return nil, fail(FailAcquisition, err)
		}
	}
	res.jingleInputs = inputs

	// Cover art.
	switch req.CoverArt {
	case model.CoverNone:
	case model.CoverUploaded:
		path, err := o.staging.ResolveCover(req.UserID, req.CoverToken)
		if err != nil {
			return nil, fail(FailAcquisition, err)
		}
		res.coverPath = path
	case model.CoverExtracted:
		path, perr := o.extractCover(ctx, req.UserID, res.primaryPath, acquired, track)
		if perr != nil {
			return nil, perr
		}
		res.coverPath = path
	default:
		return nil, fail(FailAcquisition, fmt.Errorf("unknown cover art source %q", req.CoverArt))
	}

	return res, nil
}

// stageJingle copies one library jingle from object storage into staging.
func (o *Orchestrator) stageJingle(ctx context.Context, userID int64, spec model.JingleSpec) (*staging.Asset, error) {
	jingle, err := o.jingles.GetJingleByID(spec.JingleID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up jingle %d: %w", spec.JingleID, err)
	}
	if jingle == nil || jingle.UserID != userID {
		// Another user's jingle is indistinguishable from a missing one.
		return nil, fmt.Errorf("%w: jingle %d not found", acquire.ErrInvalidSourceURL, spec.JingleID)
	}

	body, err := o.store.Download(ctx, jingle.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jingle %d: %w", spec.JingleID, err)
	}
	defer body.Close()

	return o.staging.SaveFrom(body, ".mp3", staging.KindRawAudio, userID)
}

// extractCover pulls embedded art from the primary track, falling back to
// the platform thumbnail surfaced by the acquirer.
func (o *Orchestrator) extractCover(ctx context.Context, userID int64, primaryPath string, acquired *model.AcquiredAudio, track func(*staging.Asset) *staging.Asset) (string, *PipelineError) {
	out, err := o.staging.Allocate(".jpg", staging.KindCoverImage, userID)
	if err != nil {
		return "", fail(FailInternal, err)
	}

	found, err := o.prober.ExtractCoverArt(ctx, primaryPath, out.Path)
	if err != nil {
		logger.Warn("embedded cover extraction failed",
			logger.String("path", primaryPath),
			logger.ErrorField(err))
	}
	if found {
		track(out)
		return out.Path, nil
	}

	if acquired == nil || acquired.CoverArtURL == "" {
		// Absence of embedded art is not an error; the mix goes out
		// without a cover.
		return "", nil
	}

	data, err := o.fetchThumbnail(ctx, acquired.CoverArtURL)
	if err != nil {
		logger.Warn("thumbnail download failed, continuing without cover",
			logger.String("url", acquired.CoverArtURL),
			logger.ErrorField(err))
		return "", nil
	}
	asset, err := o.staging.Save(data, ".jpg", staging.KindCoverImage, userID)
	if err != nil {
		return "", fail(FailInternal, err)
	}
	track(asset)
	return asset.Path, nil
}

func (o *Orchestrator) fetchThumbnail(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("thumbnail fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

// dispose decides ephemeral versus durable placement, persists the
// MixRecord and schedules (via expiry timestamp) the ephemeral deletion.
func (o *Orchestrator) dispose(ctx context.Context, req *model.MixRequest, limits model.PlanLimits, res *resolved, output *staging.Asset, outputBytes int64, keep **staging.Asset) (*model.MixRecord, error) {
	ephemeral := req.PreviewOnly || !limits.DurableStorageAllowed

	record := &model.MixRecord{
		UserID:      req.UserID,
		Title:       res.title,
		Artist:      res.artist,
		SourceKind:  string(req.Source.Kind),
		SourceRef:   sourceRef(req),
		JingleRef:   jingleRef(req.Jingles),
		Position:    positionRef(req.Jingles),
		CoverArtRef: res.coverPath,
		OutputBytes: outputBytes,
		IsPreview:   req.PreviewOnly,
		CreatedAt:   time.Now(),
	}

	var storageErr error
	if !ephemeral {
		f, err := os.Open(output.Path)
		if err != nil {
			return nil, fail(FailInternal, err)
		}
		key := fmt.Sprintf("mixes/%d/%s", req.UserID, output.Token)
		url, err := o.store.Upload(ctx, key, f, outputBytes, "audio/mpeg")
		f.Close()
		if err != nil {
			// The ephemeral copy is kept and served so the user does
			// not lose the artifact; the caller still sees the
			// storage failure.
			logger.Error("durable upload failed, falling back to ephemeral serving",
				logger.Int64("userId", req.UserID),
				logger.ErrorField(err))
			ephemeral = true
			storageErr = fail(FailStorage, err)
		} else {
			record.Durable = true
			record.OutputURL = url
			// Temporary copy is removed immediately after promotion;
			// the deferred cleanup in Run handles it.
		}
	}

	if ephemeral {
		expires := time.Now().Add(o.opts.EphemeralTTL)
		record.ExpiresAt = &expires
		record.StagedToken = output.Token
		record.OutputURL = fmt.Sprintf("%s/tmp/%s", o.opts.PublicBaseURL, output.Token)
		*keep = output
	}

	if err := o.mixes.Create(ctx, record); err != nil {
		*keep = nil // no record, no artifact
		return nil, fail(FailInternal, fmt.Errorf("failed to persist mix record: %w", err))
	}

	logger.Info("mix complete",
		logger.Int64("userId", req.UserID),
		logger.Int64("mixId", record.ID),
		logger.Bool("durable", record.Durable),
		logger.Bool("preview", record.IsPreview),
		logger.Int64("bytes", outputBytes))

	return record, storageErr
}

func sourceRef(req *model.MixRequest) string {
	if req.Source.Kind == model.SourceStaged {
		return req.StagedToken
	}
	return req.Source.URL
}

func jingleRef(jingles []model.JingleSpec) string {
	ids := make([]string, len(jingles))
	for i, j := range jingles {
		ids[i] = fmt.Sprintf("%d", j.JingleID)
	}
	return strings.Join(ids, ",")
}

func positionRef(jingles []model.JingleSpec) string {
	seen := make(map[model.JinglePosition]bool)
	var out []string
	for _, j := range jingles {
		if !seen[j.Position] {
			seen[j.Position] = true
			out = append(out, string(j.Position))
		}
	}
	return strings.Join(out, ",")
}
