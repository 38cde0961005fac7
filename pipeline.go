package idtrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thaqib/go-idtrack/facemesh"
	"github.com/thaqib/go-idtrack/registry"
	"github.com/thaqib/go-idtrack/reid"
	"github.com/thaqib/go-idtrack/tracker"
	"golang.org/x/sync/errgroup"
)

// Options are the collaborators of a Pipeline.  Only Detector is needed to
// run from a camera, every other field has a fallback
type Options struct {
	// Detector runs in the background Feed.  Without one, detections must be
	// supplied with SubmitDetection
	Detector Detector
	// Engine is the tracking engine, defaults to ByteTrack configured from
	// the tracking settings
	Engine tracker.Engine
	// Meshes extracts face meshes for monitored people and the face geometry
	// re-identification tier.  It is wrapped in a facemesh.Cache
	Meshes facemesh.Extractor
	// Embedder computes appearance embeddings.  Without one the Pipeline
	// re-identifies by face geometry
	Embedder reid.Embedder
	Logger   *slog.Logger
	// Metrics is optional
	Metrics *Metrics
}

// Pipeline fuses periodic detections with per frame tracking and keeps a
// stable identity for every person in view.  ProcessFrame calls are
// serialized, all identity state is mutated only from within them
type Pipeline struct {
	cfg     Config
	session string
	log     *slog.Logger
	metrics *Metrics

	feed       *Feed
	stabilizer *tracker.Stabilizer
	arbiter    *reid.Arbiter
	ledger     *registry.Ledger
	risk       registry.RiskModeler
	meshes     facemesh.Extractor
	cache      *facemesh.Cache
	embedder   reid.Embedder

	mu sync.Mutex
	// lastDetection is reused on frames where no new result has arrived
	lastDetection *DetectionResult
	// lastRaw maps an identity to the raw track ID it was last seen under
	lastRaw   map[int]int
	lastDrops uint64
	closeOnce sync.Once
}

// NewPipeline returns a Pipeline for the configuration and collaborators.
// The Pipeline takes ownership of the extractor and embedder and closes them
// in Close
func NewPipeline(cfg Config, opts Options) (*Pipeline, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger

	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		cfg:      cfg,
		session:  uuid.NewString(),
		metrics:  opts.Metrics,
		ledger:   registry.NewLedger(cfg.Registry.Expiry),
		risk:     cfg.RiskModeler(),
		embedder: opts.Embedder,
		lastRaw:  make(map[int]int),
	}

	p.log = logger.With("component", "pipeline", "session", p.session)

	if opts.Meshes != nil {
		p.cache = facemesh.NewCache(opts.Meshes, cfg.Extraction.FaceCacheTTL,
			cfg.Extraction.MinFaceSize)
		p.meshes = p.cache
	}

	engine := opts.Engine

	if engine == nil {
		engine = tracker.NewByteTrack(cfg.Tracking.FrameRate, cfg.Tracking.TrackBuffer,
			cfg.Tracking.TrackThresh, cfg.Tracking.HighThresh, cfg.Tracking.MatchThresh)
	}

	p.stabilizer = tracker.NewStabilizer(engine, cfg.Tracking.SmoothingAlpha, p.log)
	p.arbiter = reid.NewArbiter(cfg.ArbiterConfig(), opts.Embedder, p.meshes, p.log)
	p.feed = NewFeed(opts.Detector, cfg.Detection.Interval, cfg.Detection.StopTimeout, p.log)

	p.log.Info("pipeline: created", "reid_tier", p.arbiter.Tier().String(),
		"face_mesh", p.meshes != nil, "workers", cfg.Extraction.Workers)

	return p, nil
}

// Session returns the unique ID stamped on every frame of this Pipeline
func (p *Pipeline) Session() string {
	return p.session
}

// Tier returns the active re-identification tier
func (p *Pipeline) Tier() reid.Tier {
	return p.arbiter.Tier()
}

// Start launches the background detection Feed
func (p *Pipeline) Start(ctx context.Context) error {
	return p.feed.Start(ctx)
}

// Stop halts the background detection Feed, waiting at most the configured
// stop timeout
func (p *Pipeline) Stop() error {
	return p.feed.Stop()
}

// Close stops the Pipeline and releases the extractor and embedder
func (p *Pipeline) Close() error {

	var err error

	p.closeOnce.Do(func() {
		errs := []error{p.Stop()}

		if p.cache != nil {
			errs = append(errs, p.cache.Close())
		}

		if p.embedder != nil {
			errs = append(errs, p.embedder.Close())
		}

		err = errors.Join(errs...)
	})

	return err
}

// SubmitDetection hands a detection result to the next frame, for callers
// running their own detector
func (p *Pipeline) SubmitDetection(res DetectionResult) {
	p.feed.Submit(res)
}

// Select marks identities for monitoring
func (p *Pipeline) Select(ids ...int) {
	p.stabilizer.Select(ids...)
}

// Deselect stops monitoring identities
func (p *Pipeline) Deselect(ids ...int) {
	p.stabilizer.Deselect(ids...)
}

// ClearSelection stops monitoring every identity
func (p *Pipeline) ClearSelection() {
	p.stabilizer.ClearSelection()
}

// Selected returns the monitored identities in ascending order
func (p *Pipeline) Selected() []int {
	return p.stabilizer.Selected()
}

// SetLabel sets the display label of an identity, an empty label removes it
func (p *Pipeline) SetLabel(id int, label string) {
	p.stabilizer.SetLabel(id, label)
}

// IsLocked reports whether an identity is locked
func (p *Pipeline) IsLocked(id int) bool {
	return p.arbiter.IsLocked(id)
}

// Run processes frames until the channel is closed or ctx is cancelled.
// Each emitted PipelineFrame carries the input Mat, which the receiver owns
func (p *Pipeline) Run(ctx context.Context, frames <-chan FrameData) <-chan PipelineFrame {

	out := make(chan PipelineFrame)

	go func() {
		defer close(out)

		for {
			var fd FrameData
			var ok bool

			select {
			case <-ctx.Done():
				return
			case fd, ok = <-frames:
				if !ok {
					return
				}
			}

			pf := p.ProcessFrame(ctx, fd)

			select {
			case out <- pf:
			case <-ctx.Done():
				fd.Frame.Close()
				return
			}
		}
	}()

	return out
}

// ProcessFrame runs every stage on one frame.  It never fails, a stage that
// can not complete contributes nothing to the frame
func (p *Pipeline) ProcessFrame(ctx context.Context, fd FrameData) PipelineFrame {
	p.mu.Lock()
	defer p.mu.Unlock()

	t0 := time.Now()

	pf := PipelineFrame{
		Session:    p.session,
		Frame:      fd.Frame,
		FrameIndex: fd.Index,
		Timestamp:  fd.Timestamp,
	}

	p.feed.SetFrame(fd)

	// latest detection, falling back to the last one seen
	if res, ok := p.feed.Latest(); ok {
		p.lastDetection = &res
		pf.FreshDetection = true
	}

	drops := p.feed.Drops()
	p.metrics.detectionDropped(drops - p.lastDrops)
	p.lastDrops = drops

	pf.Detection = p.lastDetection

	var dets []tracker.Detection

	if p.lastDetection != nil {
		dets = p.lastDetection.Detections
	}

	t1 := time.Now()

	raw, err := p.stabilizer.Update(dets, fd.Frame)

	if err != nil {
		p.log.Debug("pipeline: tracking skipped", "frame", fd.Index, "error", err)
		raw = nil
	}

	t2 := time.Now()

	tracks := p.resolve(fd, raw)
	tracks = append(tracks, p.predict(fd.Index, fd.Timestamp, tracks)...)

	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].ID < tracks[j].ID
	})

	t3 := time.Now()

	deleted := p.ledger.Update(tracks, fd.Index, fd.Timestamp)

	for _, id := range deleted {
		p.forget(id)
	}

	p.metrics.expiredIDs(len(deleted))

	if len(deleted) > 0 {
		p.log.Debug("pipeline: identities expired", "frame", fd.Index, "ids", deleted)
	}

	t4 := time.Now()

	registry.ComputeNeighbors(p.ledger, p.cfg.Registry.Neighbors)

	t5 := time.Now()

	if err == nil {
		pf.StudentStates = p.extract(ctx, fd, tracks)
	}

	t6 := time.Now()

	pf.Tracks = tracks
	pf.Timing = Timing{
		Detection:  t1.Sub(t0),
		Tracking:   t2.Sub(t1),
		ReID:       t3.Sub(t2),
		Registry:   t4.Sub(t3),
		Neighbors:  t5.Sub(t4),
		Extraction: t6.Sub(t5),
		Total:      t6.Sub(t0),
	}

	predicted := 0

	for _, t := range tracks {
		if t.Predicted {
			predicted++
		}
	}

	p.metrics.observeTiming(pf.Timing)
	p.metrics.setTracks(len(tracks), predicted, pf.SelectedCount())

	if n := p.cfg.Logging.PerfInterval; n > 0 && fd.Index%n == 0 {
		p.log.Info("pipeline: perf", "frame", fd.Index,
			"detection", pf.Timing.Detection, "tracking", pf.Timing.Tracking,
			"reid", pf.Timing.ReID, "registry", pf.Timing.Registry,
			"neighbors", pf.Timing.Neighbors, "extraction", pf.Timing.Extraction,
			"total", pf.Timing.Total, "tracks", len(tracks),
			"identities", p.ledger.Len())
	}

	return pf
}

// resolve rewrites raw track IDs to canonical identities.  Tracks already
// known under their own identity claim it first, then aliases and new raw
// IDs are resolved in engine order.  An alias whose identity is already
// claimed this frame keeps its raw ID
func (p *Pipeline) resolve(fd FrameData, raw []tracker.Track) []tracker.Track {

	tracks := make([]tracker.Track, 0, len(raw))
	claimed := make(map[int]struct{}, len(raw))
	claimedIDs := make([]int, 0, len(raw))
	var rest []tracker.Track

	claim := func(t tracker.Track, id int) {
		claimed[id] = struct{}{}
		claimedIDs = append(claimedIDs, id)
		p.lastRaw[id] = t.ID

		t.ID = id
		t.Selected = p.stabilizer.IsSelected(id)
		t.Label = p.stabilizer.Label(id)
		tracks = append(tracks, t)
	}

	for _, t := range raw {
		if p.arbiter.Known(t.ID) && p.arbiter.Canonical(t.ID) == t.ID {
			claim(t, t.ID)
			continue
		}

		rest = append(rest, t)
	}

	for _, t := range rest {

		res := p.arbiter.Resolve(fd.Frame, t.ID, t.BBox, claimedIDs...)
		id := res.Canonical

		if res.Matched {
			p.metrics.reidMatch(p.arbiter.Tier().String())
		}

		// raw IDs are unique per frame and an alias is never an identity of
		// its own, so the raw ID is free
		if _, dup := claimed[id]; dup {
			p.log.Debug("pipeline: identity already claimed, keeping raw id",
				"frame", fd.Index, "identity", id, "raw_id", t.ID)
			id = t.ID
		}

		claim(t, id)
	}

	return tracks
}

// predict bridges short gaps in the tracker output.  Every active identity
// missing from tracks that was last seen between 1 and StabilityWindow-1
// frames ago, and no longer ago than the ledger expiry, is emitted at its
// predicted position
func (p *Pipeline) predict(frameIndex int, ts time.Time,
	tracks []tracker.Track) []tracker.Track {

	present := make(map[int]struct{}, len(tracks))

	for _, t := range tracks {
		present[t.ID] = struct{}{}
	}

	var predicted []tracker.Track

	for _, e := range p.ledger.Active() {

		if _, ok := present[e.ID]; ok {
			continue
		}

		missing := frameIndex - e.LastSeenFrame

		if missing <= 0 || missing >= p.cfg.Tracking.StabilityWindow {
			continue
		}

		// at low frame rates the window outlasts the expiry
		if ts.Sub(e.LastSeenTime) > p.ledger.Expiry() {
			continue
		}

		box, ok := p.stabilizer.PredictedBBox(p.rawID(e.ID))

		if !ok {
			box = e.BBox
		}

		predicted = append(predicted, tracker.Track{
			ID:         e.ID,
			BBox:       box,
			Confidence: p.cfg.Tracking.PredictedConfidence,
			Selected:   p.stabilizer.IsSelected(e.ID),
			Label:      p.stabilizer.Label(e.ID),
			Predicted:  true,
		})
	}

	return predicted
}

func (p *Pipeline) rawID(id int) int {
	if raw, ok := p.lastRaw[id]; ok {
		return raw
	}
	return id
}

// forget drops every trace of an expired identity
func (p *Pipeline) forget(id int) {

	p.arbiter.Forget(id)

	if raw, ok := p.lastRaw[id]; ok {
		p.stabilizer.Forget(raw)
		delete(p.lastRaw, id)
	}

	p.stabilizer.Forget(id)

	if p.cache != nil {
		p.cache.Forget(id)
	}
}

// extraction is the output of one per person worker
type extraction struct {
	mesh    *facemesh.Mesh
	meshErr error
	emb     []float64
	embErr  error
}

// extract runs face mesh and appearance extraction for the monitored tracks
// across the worker pool, then applies the results in order
func (p *Pipeline) extract(ctx context.Context, fd FrameData, tracks []tracker.Track) []StudentState {

	var selected []tracker.Track

	for _, t := range tracks {
		if !t.Selected {
			continue
		}

		if _, ok := p.ledger.Get(t.ID); ok {
			selected = append(selected, t)
		}
	}

	if len(selected) == 0 {
		return nil
	}

	results := make([]extraction, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Extraction.Workers)

	for i, t := range selected {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			r := &results[i]

			if p.meshes != nil {
				r.mesh, r.meshErr = p.meshes.Extract(fd.Frame, t.BBox, t.ID)
			}

			// predicted boxes may not contain the person
			if p.embedder != nil && !t.Predicted {
				r.emb, r.embErr = p.embedder.Extract(fd.Frame, t.BBox)
			}

			return nil
		})
	}

	// workers never return an error
	_ = g.Wait()

	states := make([]StudentState, 0, len(selected))

	for i, t := range selected {
		states = append(states, p.apply(fd, t, results[i]))
	}

	return states
}

// apply folds one extraction result into the galleries, ledger and lock
// book and assembles the StudentState
func (p *Pipeline) apply(fd FrameData, t tracker.Track, r extraction) StudentState {

	e, _ := p.ledger.Get(t.ID)

	st := StudentState{
		ID:                t.ID,
		BBox:              t.BBox,
		Label:             t.Label,
		Predicted:         t.Predicted,
		Neighbors:         append([]int(nil), e.Neighbors...),
		NeighborDistances: make(map[int]float64, len(e.NeighborDistances)),
	}

	for k, v := range e.NeighborDistances {
		st.NeighborDistances[k] = v
	}

	switch {
	case r.embErr != nil:
		p.metrics.extractionFailed("appearance")
		p.log.Debug("pipeline: appearance extraction failed", "frame", fd.Index,
			"identity", t.ID, "error", r.embErr)
	case r.emb != nil:
		p.arbiter.ObserveAppearance(t.ID, r.emb)
		e.UpdateEmbedding(r.emb)
	}

	switch {
	case r.meshErr != nil:
		p.metrics.extractionFailed("face_mesh")
		p.log.Debug("pipeline: face mesh extraction failed", "frame", fd.Index,
			"identity", t.ID, "error", r.meshErr)
	case r.mesh != nil:
		st.Mesh = r.mesh
		st.Pose, st.HasPose = r.mesh.Pose()

		if _, lockedNow := p.arbiter.Revalidate(t.ID, r.mesh); lockedNow {
			p.metrics.locked()
		}
	}

	st.Locked = p.arbiter.IsLocked(t.ID)
	st.Embeddings = e.EmbeddingCount

	if spatial, ok := p.risk.Context(p.ledger, t.ID); ok {
		st.Spatial = spatial

		if st.HasPose {
			if gaze, ok := st.Pose.GazeAngle(p.cfg.Risk.MinGazeDeflection); ok {
				st.Risk, st.AtRisk = spatial.MatchingRisk(gaze)
				st.LookingAt, st.HasTarget = spatial.LookingAt(gaze)
			}
		}
	}

	return st
}

// String describes the pipeline for logs
func (p *Pipeline) String() string {
	return fmt.Sprintf("pipeline %s (%s)", p.session, p.arbiter.Tier())
}
