package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"mixfm/logger"
	"mixfm/model"

	"github.com/fsnotify/fsnotify"
)

// LimitsTable holds the per-tier plan limits. The table is an immutable
// snapshot swapped atomically on reload; callers always evaluate against a
// consistent version rather than a mutable shared object.
type LimitsTable struct {
	mu      sync.RWMutex
	version int
	byTier  map[model.PlanTier]model.PlanLimits
}

// DefaultLimits is the built-in table used when no plan limits file is
// configured or readable.
func DefaultLimits() map[model.PlanTier]model.PlanLimits {
	return map[model.PlanTier]model.PlanLimits{
		model.TierFree: {
			Tier:                     model.TierFree,
			MaxJingles:               1,
			AllowedPositions:         []model.JinglePosition{model.PositionStart},
			VolumeControlAllowed:     false,
			FullExportAllowed:        false,
			PreviewDurationSeconds:   30,
			BandwidthLimitBytes:      200 << 20, // 200 MiB
			DurableStorageAllowed:    false,
			ExtractedCoverArtAllowed: false,
		},
		model.TierPro: {
			Tier:                     model.TierPro,
			MaxJingles:               3,
			AllowedPositions:         []model.JinglePosition{model.PositionStart, model.PositionMiddle, model.PositionEnd, model.PositionStartEnd},
			VolumeControlAllowed:     true,
			FullExportAllowed:        true,
			PreviewDurationSeconds:   30,
			BandwidthLimitBytes:      5 << 30, // 5 GiB
			DurableStorageAllowed:    true,
			ExtractedCoverArtAllowed: true,
		},
		model.TierProPlus: {
			Tier:                     model.TierProPlus,
			MaxJingles:               10,
			AllowedPositions:         []model.JinglePosition{model.PositionStart, model.PositionMiddle, model.PositionEnd, model.PositionStartEnd},
			VolumeControlAllowed:     true,
			FullExportAllowed:        true,
			PreviewDurationSeconds:   60,
			BandwidthLimitBytes:      50 << 30, // 50 GiB
			DurableStorageAllowed:    true,
			ExtractedCoverArtAllowed: true,
		},
	}
}

// NewLimitsTable loads the table from path, falling back to the defaults
// when the file is absent.
func NewLimitsTable(path string) *LimitsTable {
	t := &LimitsTable{version: 1, byTier: DefaultLimits()}
	if path == "" {
		return t
	}
	if err := t.loadFile(path); err != nil {
		logger.Warn("plan limits file not loaded, using defaults",
			logger.String("path", path),
			logger.ErrorField(err))
	}
	return t
}

func (t *LimitsTable) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var entries []model.PlanLimits
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse plan limits file: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("plan limits file is empty")
	}

	byTier := make(map[model.PlanTier]model.PlanLimits, len(entries))
	for _, e := range entries {
		byTier[e.Tier] = e
	}

	t.mu.Lock()
	t.byTier = byTier
	t.version++
	version := t.version
	t.mu.Unlock()

	logger.Info("plan limits loaded",
		logger.String("path", path),
		logger.Int("tiers", len(byTier)),
		logger.Int("version", version))
	return nil
}

// Get returns the limits snapshot for a tier. Unknown tiers fall back to
// the free tier so an inconsistent web layer never grants extra capability.
func (t *LimitsTable) Get(tier model.PlanTier) model.PlanLimits {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limits, ok := t.byTier[tier]; ok {
		return limits
	}
	return t.byTier[model.TierFree]
}

// Version returns the current table version, bumped on every reload.
func (t *LimitsTable) Version() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Watch reloads the table whenever the limits file changes, until stop is
// closed. Admin plan changes land without a restart.
func (t *LimitsTable) Watch(path string, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create plan limits watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch plan limits file: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := t.loadFile(path); err != nil {
					logger.Error("plan limits reload failed, keeping previous version",
						logger.String("path", path),
						logger.ErrorField(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("plan limits watcher error", logger.ErrorField(err))
			case <-stop:
				return
			}
		}
	}()

	return nil
}
