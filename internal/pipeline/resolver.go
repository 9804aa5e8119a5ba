// Package pipeline orchestrates one address resolution end to end: clean,
// score, geocode in parallel, validate, fuse, detect anomalies, and heal.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/locallens/resolve-cli/internal/anomaly"
	"github.com/locallens/resolve-cli/internal/cache"
	"github.com/locallens/resolve-cli/internal/cleaner"
	"github.com/locallens/resolve-cli/internal/config"
	"github.com/locallens/resolve-cli/internal/eventlog"
	"github.com/locallens/resolve-cli/internal/fusion"
	"github.com/locallens/resolve-cli/internal/index"
	"github.com/locallens/resolve-cli/internal/integrity"
	"github.com/locallens/resolve-cli/internal/matcher"
	"github.com/locallens/resolve-cli/internal/model"
	"github.com/locallens/resolve-cli/internal/selfheal"
	"github.com/locallens/resolve-cli/internal/validate"
	"github.com/locallens/resolve-cli/pkg/geocode"
)

// Resolver wires every pipeline stage. One Resolver serves unlimited
// concurrent requests; all stage components are read-only after construction.
type Resolver struct {
	cfg       *config.Config
	cleaner   cleaner.Cleaner
	scorer    *integrity.Scorer
	matcher   *matcher.Matcher
	geocoder  geocode.Client
	validator *validate.Validator
	fuser     *fusion.Engine
	detector  *anomaly.Detector
	healer    *selfheal.Engine
	cache     *cache.ResultCache
	events    eventlog.Sink
	log       *zap.Logger
}

// New creates a Resolver over the loaded bundle and collaborators.
func New(
	cfg *config.Config,
	bundle *index.Bundle,
	cl cleaner.Cleaner,
	geocoder geocode.Client,
	resultCache *cache.ResultCache,
	events eventlog.Sink,
) *Resolver {
	r := &Resolver{
		cfg:       cfg,
		cleaner:   cl,
		scorer:    integrity.New(bundle),
		matcher:   matcher.New(bundle, cfg.Index.TopK),
		geocoder:  geocoder,
		validator: validate.New(bundle),
		fuser: fusion.New(fusion.Weights{
			Vector:          cfg.Fusion.VectorWeight,
			External:        cfg.Fusion.ExternalWeight,
			Integrity:       cfg.Fusion.IntegrityWeight,
			MismatchPenalty: cfg.Fusion.MismatchPenalty,
		}),
		detector: anomaly.New(anomaly.Thresholds{
			LowFusedConf:    cfg.Anomaly.LowFusedConf,
			LowIntegrity:    cfg.Anomaly.LowIntegrity,
			MismatchKm:      cfg.Anomaly.MismatchKm,
			LowExternalConf: cfg.Anomaly.LowExternalConf,
			HighLatencyMs:   cfg.Anomaly.HighLatencyMs,
		}),
		cache:  resultCache,
		events: events,
		log:    zap.L().With(zap.String("component", "pipeline")),
	}
	r.healer = selfheal.New(selfheal.DefaultStrategies(cl, r.rescore, geocoder, bundle)...)
	return r
}

// Resolve runs the full pipeline for one raw address. Stage failures degrade
// the result; only invalid input is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, raw string, addons []string) (*model.PipelineResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &model.InvalidInputError{Reason: "empty address"}
	}
	addons = NormalizeAddons(addons)

	key := cache.Key(raw, addons)
	if cached := r.cache.Get(key); cached != nil {
		hit := *cached
		hit.FromCache = true
		return &hit, nil
	}

	if r.cfg.Pipeline.OverallTimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, secs(r.cfg.Pipeline.OverallTimeoutSecs))
		defer cancel()
	}

	start := time.Now()
	result := &model.PipelineResult{
		RequestID:  uuid.NewString(),
		Timestamp:  start.UTC(),
		RawAddress: raw,
	}
	log := r.log.With(zap.String("request_id", result.RequestID))

	// Clean. A cleaner failure past invalid input falls back to the raw text.
	cleanStart := time.Now()
	clean, err := r.cleaner.Clean(ctx, raw, false)
	result.Timing.CleanMs = time.Since(cleanStart).Milliseconds()
	if err != nil {
		var invalid *model.InvalidInputError
		if errors.As(err, &invalid) {
			return nil, err
		}
		log.Warn("pipeline: cleaner failed, using raw text", zap.Error(err))
		clean = &model.CleanResult{
			CleanedText: strings.Join(strings.Fields(raw), " "),
			Source:      "rules",
		}
	}
	result.Clean = *clean
	result.Integrity = r.scorer.Score(*clean)

	// Geocode both sources in parallel under their own deadlines.
	geoStart := time.Now()
	vec, ext, unavailable := r.geocodeBoth(ctx, clean.CleanedText, log)
	result.Timing.GeocodeMs = time.Since(geoStart).Milliseconds()
	result.Vector = vec
	result.External = ext
	result.UnavailableSources = unavailable
	result.Degraded = len(unavailable) > 0

	// Validate and fuse.
	validateStart := time.Now()
	var vecTop *model.GeocodeCandidate
	if vec != nil {
		vecTop = vec.Top
	}
	result.Validation = r.validator.Validate(vecTop, ext, clean.Components)
	result.Fused = r.fuser.Fuse(fusionInput(result))
	result.Timing.ValidateMs = time.Since(validateStart).Milliseconds()

	// Detect anomalies against the full signal set, including latency so far.
	result.Anomaly = r.detector.Detect(anomalyState(result, time.Since(start).Milliseconds()))

	if result.Anomaly.Detected {
		healStart := time.Now()
		outcome := r.healer.Heal(ctx, selfheal.State{
			Raw:        raw,
			Clean:      *clean,
			Integrity:  result.Integrity,
			Vector:     vec,
			External:   ext,
			Validation: result.Validation,
			Fused:      result.Fused,
			Anomaly:    result.Anomaly,
		})
		result.SelfHeal = outcome
		result.Timing.HealMs = time.Since(healStart).Milliseconds()
		if outcome.Healed {
			result.Fused = outcome.FinalConfidence
		}
	}

	result.Addons = ComputeAddons(addons, result)
	result.Timing.TotalMs = time.Since(start).Milliseconds()

	if err := r.events.Append(ctx, result); err != nil {
		log.Warn("pipeline: event log append failed", zap.Error(err))
	}
	r.cache.Put(key, result)

	log.Info("pipeline: resolved",
		zap.Float64("fused", result.Fused),
		zap.Bool("anomalous", result.Anomaly.Detected),
		zap.Bool("degraded", result.Degraded),
		zap.Int64("total_ms", result.Timing.TotalMs),
	)
	return result, nil
}

// BatchItem pairs one input address with its outcome.
type BatchItem struct {
	Address string                `json:"address"`
	Result  *model.PipelineResult `json:"result,omitempty"`
	Err     string                `json:"error,omitempty"`
}

// ResolveBatch resolves many addresses with bounded concurrency. Per-address
// failures are recorded in place; the batch itself never fails.
func (r *Resolver) ResolveBatch(ctx context.Context, addresses []string, addons []string) []BatchItem {
	items := make([]BatchItem, len(addresses))

	g, gCtx := errgroup.WithContext(ctx)
	limit := r.cfg.Pipeline.BatchConcurrency
	if limit <= 0 {
		limit = 5
	}
	g.SetLimit(limit)

	for i, addr := range addresses {
		g.Go(func() error {
			items[i].Address = addr
			res, err := r.Resolve(gCtx, addr, addons)
			if err != nil {
				items[i].Err = err.Error()
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// geocodeBoth fans out to the vector matcher and the external geocoder. A
// source that errors or misses its deadline is reported unavailable.
func (r *Resolver) geocodeBoth(ctx context.Context, cleaned string, log *zap.Logger) (*model.MatchResult, *model.GeocodeCandidate, []model.CandidateSource) {
	var (
		vec *model.MatchResult
		ext *model.GeocodeCandidate
	)
	var vecFailed, extFailed bool

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		mctx := gCtx
		if r.cfg.Pipeline.VectorTimeoutSecs > 0 {
			var cancel context.CancelFunc
			mctx, cancel = context.WithTimeout(gCtx, secs(r.cfg.Pipeline.VectorTimeoutSecs))
			defer cancel()
		}
		m, err := r.matcher.Match(mctx, cleaned)
		if err != nil {
			log.Warn("pipeline: vector matcher unavailable", zap.Error(err))
			vecFailed = true
			return nil
		}
		vec = m
		return nil
	})

	g.Go(func() error {
		gctx := gCtx
		if r.cfg.Here.TimeoutSecs > 0 {
			var cancel context.CancelFunc
			gctx, cancel = context.WithTimeout(gCtx, secs(r.cfg.Here.TimeoutSecs))
			defer cancel()
		}
		cand, err := r.geocoder.Geocode(gctx, cleaned)
		if err != nil {
			log.Warn("pipeline: external geocoder unavailable", zap.Error(err))
			extFailed = true
			return nil
		}
		if cand != nil {
			ext = externalCandidate(cand)
		}
		return nil
	})

	_ = g.Wait()

	var unavailable []model.CandidateSource
	if vecFailed {
		unavailable = append(unavailable, model.SourceVector)
	}
	if extFailed {
		unavailable = append(unavailable, model.SourceExternal)
	}
	return vec, ext, unavailable
}

// rescore re-runs matching, geocoding, validation, and fusion for a re-cleaned
// address. Used by the strict re-clean healing strategy.
func (r *Resolver) rescore(ctx context.Context, clean model.CleanResult) (*selfheal.Result, error) {
	vec, ext, _ := r.geocodeBoth(ctx, clean.CleanedText, r.log)

	var vecTop *model.GeocodeCandidate
	if vec != nil {
		vecTop = vec.Top
	}
	validation := r.validator.Validate(vecTop, ext, clean.Components)

	snapshot := &model.PipelineResult{
		Clean:      clean,
		Integrity:  r.scorer.Score(clean),
		Vector:     vec,
		External:   ext,
		Validation: validation,
	}
	fused := r.fuser.Fuse(fusionInput(snapshot))

	best := snapshot.BestCandidate()
	if best == nil {
		return nil, nil
	}
	return &selfheal.Result{Candidate: best, Fused: fused}, nil
}

func fusionInput(r *model.PipelineResult) model.FusionInput {
	in := model.FusionInput{
		IntegrityScore: r.Integrity.Score,
		MismatchKm:     r.Validation.DistanceKm,
	}
	if r.Vector != nil {
		in.VectorSimilarity = r.Vector.Confidence
	}
	if r.External != nil {
		in.ExternalConfidence = r.External.Confidence
	}
	return in
}

func anomalyState(r *model.PipelineResult, latencyMs int64) anomaly.State {
	s := anomaly.State{
		Fused:          r.Fused,
		IntegrityScore: r.Integrity.Score,
		MismatchKm:     r.Validation.DistanceKm,
		PostalMatch:    r.Validation.PostalMatch,
		LatencyMs:      latencyMs,
	}
	if r.External != nil {
		conf := r.External.Confidence
		s.ExternalConfidence = &conf
	}
	return s
}

func externalCandidate(c *geocode.Candidate) *model.GeocodeCandidate {
	return &model.GeocodeCandidate{
		Source:     model.SourceExternal,
		Lat:        c.Lat,
		Lon:        c.Lon,
		Confidence: c.Confidence,
		Components: model.AddressComponents{
			Street:     c.Street,
			City:       c.City,
			District:   c.District,
			State:      c.State,
			PostalCode: c.PostalCode,
			Country:    c.Country,
		},
	}
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
