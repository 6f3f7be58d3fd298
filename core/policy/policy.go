package policy

import (
	"fmt"

	"mixfm/model"
)

// ViolationReason identifies the specific plan limit a request breaks.
// Each check has its own reason so the web layer can tell the user exactly
// what to change (or which plan to buy).
type ViolationReason string

const (
	ReasonTooManyJingles       ViolationReason = "too_many_jingles"
	ReasonPositionNotAllowed   ViolationReason = "position_not_allowed"
	ReasonVolumeControlDenied  ViolationReason = "volume_control_denied"
	ReasonFullExportDenied     ViolationReason = "full_export_denied"
	ReasonExtractedCoverDenied ViolationReason = "extracted_cover_denied"
	ReasonInvalidVolume        ViolationReason = "invalid_volume"
	ReasonInvalidPosition      ViolationReason = "invalid_position"
)

// Violation is a denial with the limit that produced it.
type Violation struct {
	Reason  ViolationReason
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("plan policy violation (%s): %s", v.Reason, v.Message)
}

// Evaluate checks a mix request against a tier's limits. Pure and
// deterministic: no I/O, so it runs before any acquisition or staging work.
// Returns nil when the request is allowed.
func Evaluate(limits model.PlanLimits, req *model.MixRequest) *Violation {
	if len(req.Jingles) > limits.MaxJingles {
		return &Violation{
			Reason:  ReasonTooManyJingles,
			Message: fmt.Sprintf("plan %s allows at most %d jingle(s), got %d", limits.Tier, limits.MaxJingles, len(req.Jingles)),
		}
	}

	for _, j := range req.Jingles {
		if !model.ValidPosition(j.Position) {
			return &Violation{
				Reason:  ReasonInvalidPosition,
				Message: fmt.Sprintf("unknown jingle position %q", j.Position),
			}
		}
		if !limits.PositionAllowed(j.Position) {
			return &Violation{
				Reason:  ReasonPositionNotAllowed,
				Message: fmt.Sprintf("plan %s does not allow position %q", limits.Tier, j.Position),
			}
		}
		// Out-of-range values are rejected, never silently clamped.
		if j.Volume < 0 || j.Volume > 1 {
			return &Violation{
				Reason:  ReasonInvalidVolume,
				Message: fmt.Sprintf("jingle volume %.2f outside [0,1]", j.Volume),
			}
		}
		if j.Volume != 1.0 && !limits.VolumeControlAllowed {
			return &Violation{
				Reason:  ReasonVolumeControlDenied,
				Message: fmt.Sprintf("plan %s does not allow jingle volume control", limits.Tier),
			}
		}
	}

	if !req.PreviewOnly && !limits.FullExportAllowed {
		return &Violation{
			Reason:  ReasonFullExportDenied,
			Message: fmt.Sprintf("plan %s only allows preview exports", limits.Tier),
		}
	}

	if req.CoverArt == model.CoverExtracted && !limits.ExtractedCoverArtAllowed {
		return &Violation{
			Reason:  ReasonExtractedCoverDenied,
			Message: fmt.Sprintf("plan %s does not allow extracted cover art", limits.Tier),
		}
	}

	return nil
}
