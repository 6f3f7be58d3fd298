package model

// PlanTier names a subscription level. The tier string is supplied by the
// surrounding web layer together with the authenticated user.
type PlanTier string

const (
	TierFree    PlanTier = "free"
	TierPro     PlanTier = "pro"
	TierProPlus PlanTier = "pro-plus"
)

// PlanLimits is the policy record one tier maps to. It is read-only
// configuration injected into the policy check at call time; mutating it at
// runtime is an admin operation that goes through the plan limits file.
type PlanLimits struct {
	Tier                     PlanTier         `json:"tier"`
	MaxJingles               int              `json:"maxJingles"`
	AllowedPositions         []JinglePosition `json:"allowedPositions"`
	VolumeControlAllowed     bool             `json:"volumeControlAllowed"`
	FullExportAllowed        bool             `json:"fullExportAllowed"`
	PreviewDurationSeconds   float64          `json:"previewDurationSeconds"`
	BandwidthLimitBytes      int64            `json:"bandwidthLimitBytes"`
	DurableStorageAllowed    bool             `json:"durableStorageAllowed"`
	ExtractedCoverArtAllowed bool             `json:"extractedCoverArtAllowed"`
}

// PositionAllowed reports whether the tier permits inserting at p.
func (l PlanLimits) PositionAllowed(p JinglePosition) bool {
	for _, allowed := range l.AllowedPositions {
		if allowed == p {
			return true
		}
	}
	return false
}

// QuotaState is a point-in-time view of a user's bandwidth consumption
// within the current billing period. Resets are a billing-cycle event
// handled outside this service.
type QuotaState struct {
	UserID              int64 `json:"userId"`
	BandwidthUsedBytes  int64 `json:"bandwidthUsedBytes"`
	BandwidthLimitBytes int64 `json:"bandwidthLimitBytes"`
}
