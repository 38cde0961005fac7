package reid

import (
	"log/slog"
	"sync"

	"github.com/thaqib/go-idtrack/facemesh"
	"github.com/thaqib/go-idtrack/tracker"
	"gocv.io/x/gocv"
)

// Embedder produces an appearance embedding for the person inside box.
// Implementations return nil, nil when the crop is too small
type Embedder interface {
	Extract(frame gocv.Mat, box tracker.BBox) ([]float64, error)
	Close() error
}

// Tier is the matching strategy used for new raw track IDs
type Tier int

const (
	// TierAppearance matches whole body appearance embeddings
	TierAppearance Tier = iota
	// TierFaceGeometry matches face landmark geometry descriptors
	TierFaceGeometry
)

func (t Tier) String() string {
	switch t {
	case TierAppearance:
		return "appearance"
	case TierFaceGeometry:
		return "face_geometry"
	default:
		return "unknown"
	}
}

// Config holds the Arbiter thresholds and blend weights
type Config struct {
	// Threshold is the minimum cosine similarity for a match
	Threshold float64
	// AppearanceKeep is the weight of the stored appearance embedding when
	// blending a new observation
	AppearanceKeep float64
	// FaceKeep is the weight of the stored face descriptor when blending
	FaceKeep float64
	// LockThreshold is the consecutive revalidations needed to lock
	LockThreshold int
}

// DefaultConfig returns the default Arbiter configuration
func DefaultConfig() Config {
	return Config{
		Threshold:      0.80,
		AppearanceKeep: 0.8,
		FaceKeep:       0.7,
		LockThreshold:  DefaultLockThreshold,
	}
}

// Resolution is the outcome of resolving a raw track ID
type Resolution struct {
	// Canonical is the identity the track should carry
	Canonical int
	// Arbitrated is true when the raw ID was new and a match was attempted
	Arbitrated bool
	// Matched is true when the raw ID was mapped onto an existing identity
	Matched bool
	// Score is the similarity of the match
	Score float64
}

// Arbiter maps raw tracking engine IDs onto canonical identities.  Each raw
// ID is arbitrated once, the first time it is seen
type Arbiter struct {
	cfg      Config
	tier     Tier
	embedder Embedder
	meshes   facemesh.Extractor
	locks    *LockBook
	log      *slog.Logger

	mu         sync.Mutex
	appearance *Gallery
	faces      *Gallery
	// idMap maps raw IDs to the canonical identity they were matched to
	idMap map[int]int
	// known holds raw IDs that have been arbitrated
	known map[int]struct{}
}

// NewArbiter returns an Arbiter.  With a nil embedder the Arbiter falls back
// to face geometry matching using meshes
func NewArbiter(cfg Config, embedder Embedder, meshes facemesh.Extractor,
	logger *slog.Logger) *Arbiter {

	if logger == nil {
		logger = slog.Default()
	}

	a := &Arbiter{
		cfg:        cfg,
		tier:       TierAppearance,
		embedder:   embedder,
		meshes:     meshes,
		locks:      NewLockBook(cfg.LockThreshold),
		log:        logger.With("component", "reid"),
		appearance: NewGallery(cfg.AppearanceKeep),
		faces:      NewGallery(cfg.FaceKeep),
		idMap:      make(map[int]int),
		known:      make(map[int]struct{}),
	}

	if embedder == nil {
		a.tier = TierFaceGeometry
		a.log.Warn("appearance embedder unavailable, using face geometry re-identification")
	}

	a.log.Info("re-identification ready", "tier", a.tier.String(),
		"threshold", cfg.Threshold, "lock_threshold", a.locks.threshold)

	return a
}

// Tier returns the active matching tier
func (a *Arbiter) Tier() Tier {
	return a.tier
}

// Canonical returns the identity for a raw ID without arbitrating
func (a *Arbiter) Canonical(raw int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.canonical(raw)
}

func (a *Arbiter) canonical(raw int) int {

	if a.locks.IsLocked(raw) {
		return raw
	}

	if mapped, ok := a.idMap[raw]; ok {
		return mapped
	}

	return raw
}

// Known reports whether a raw ID has already been arbitrated, so resolving
// it again involves no matching
func (a *Arbiter) Known(raw int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.known[raw]

	return ok || a.locks.IsLocked(raw)
}

// Resolve returns the canonical identity for a raw track ID.  Locked and
// already mapped IDs resolve without arbitration.  A raw ID seen for the
// first time is matched against the gallery of the active tier, skipping
// identities in claimed, and is registered as a new identity when no match
// is found
func (a *Arbiter) Resolve(frame gocv.Mat, raw int, box tracker.BBox,
	claimed ...int) Resolution {

	a.mu.Lock()
	defer a.mu.Unlock()

	if canon := a.canonical(raw); canon != raw {
		return Resolution{Canonical: canon}
	}

	if _, ok := a.known[raw]; ok || a.locks.IsLocked(raw) {
		return Resolution{Canonical: raw}
	}

	a.known[raw] = struct{}{}

	res := Resolution{Canonical: raw, Arbitrated: true}

	switch a.tier {
	case TierAppearance:
		emb, err := a.embedder.Extract(frame, box)

		if err != nil {
			a.log.Warn("appearance embedding failed", "raw_id", raw, "error", err)
			return res
		}

		if emb == nil {
			return res
		}

		if id, score, ok := a.appearance.Match(emb, a.cfg.Threshold, claimed...); ok {
			return a.mapTo(raw, id, score)
		}

		a.appearance.Observe(raw, emb)

	case TierFaceGeometry:
		if a.meshes == nil {
			return res
		}

		mesh, err := a.meshes.Extract(frame, box, raw)

		if err != nil {
			a.log.Warn("face mesh extraction failed", "raw_id", raw, "error", err)
			return res
		}

		desc, ok := FaceDescriptor(mesh)

		if !ok {
			return res
		}

		if id, score, ok := a.faces.Match(desc, a.cfg.Threshold, claimed...); ok {
			return a.mapTo(raw, id, score)
		}

		a.faces.Register(raw, desc, a.cfg.Threshold)
	}

	return res
}

// mapTo records raw as an alias of id
func (a *Arbiter) mapTo(raw, id int, score float64) Resolution {

	a.idMap[raw] = id

	a.log.Info("re-identified track", "raw_id", raw, "identity", id,
		"score", score, "tier", a.tier.String())

	return Resolution{Canonical: id, Arbitrated: true, Matched: true, Score: score}
}

// ObserveAppearance blends an appearance embedding into the gallery entry
// of an identity
func (a *Arbiter) ObserveAppearance(id int, emb []float64) {
	if emb == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.appearance.Observe(id, emb)
}

// Revalidate checks a fresh face mesh against the stored face descriptor of
// an identity and updates its lock counter.  A mesh without a usable
// descriptor counts as a mismatch.  lockedNow is true when this call locked
// the identity
func (a *Arbiter) Revalidate(id int, mesh *facemesh.Mesh) (match, lockedNow bool) {

	a.mu.Lock()
	desc, ok := FaceDescriptor(mesh)

	if ok {
		match = a.faces.Register(id, desc, a.cfg.Threshold)
	}
	a.mu.Unlock()

	lockedNow = a.locks.Verify(id, match)

	if lockedNow {
		a.log.Info("identity locked", "identity", id)
	}

	return match, lockedNow
}

// IsLocked reports whether an identity is locked
func (a *Arbiter) IsLocked(id int) bool {
	return a.locks.IsLocked(id)
}

// LockCount returns the consecutive revalidation count of an identity
func (a *Arbiter) LockCount(id int) int {
	return a.locks.Count(id)
}

// Forget removes an identity from both galleries along with every raw ID
// mapped onto it, so a returning raw ID is arbitrated again.  Locks are
// permanent and survive
func (a *Arbiter) Forget(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.appearance.Delete(id)
	a.faces.Delete(id)
	delete(a.known, id)
	delete(a.idMap, id)

	for raw, canon := range a.idMap {
		if canon == id {
			delete(a.idMap, raw)
			delete(a.known, raw)
		}
	}
}

// Galleries returns the number of identities in the appearance and face
// galleries
func (a *Arbiter) Galleries() (appearance, faces int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.appearance.Len(), a.faces.Len()
}
