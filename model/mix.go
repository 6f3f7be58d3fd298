package model

import "time"

// SourceKind identifies where a primary track comes from.
type SourceKind string

const (
	SourceDirectURL SourceKind = "direct"
	SourceYouTube   SourceKind = "youtube"
	SourceAudiomack SourceKind = "audiomack"
	SourceStaged    SourceKind = "staged" // already uploaded through the web layer
)

// JinglePosition says where a jingle is inserted relative to the primary track.
type JinglePosition string

const (
	PositionStart    JinglePosition = "start"
	PositionMiddle   JinglePosition = "middle"
	PositionEnd      JinglePosition = "end"
	PositionStartEnd JinglePosition = "start-end"
)

// ValidPosition reports whether p is one of the known insert positions.
func ValidPosition(p JinglePosition) bool {
	switch p {
	case PositionStart, PositionMiddle, PositionEnd, PositionStartEnd:
		return true
	}
	return false
}

// SourceDescriptor points at a primary audio source. It is an immutable
// request input and is never persisted.
type SourceDescriptor struct {
	Kind   SourceKind `json:"kind"`
	URL    string     `json:"url"`
	UserID int64      `json:"-"`
}

// AcquiredAudio is the transient result of acquiring a source: raw bytes
// plus best-effort metadata. Consumed immediately by the staging store.
type AcquiredAudio struct {
	Bytes           []byte
	SuggestedTitle  string
	SuggestedArtist string
	CoverArtURL     string // empty when the platform exposes none
}

// JingleSpec selects one jingle from the user's library and how to apply it.
type JingleSpec struct {
	JingleID int64          `json:"jingleId"`
	Position JinglePosition `json:"position"`
	Volume   float64        `json:"volume"` // 1.0 is a no-op; must be within [0,1]
}

// CoverArtSource says where the mix cover image comes from.
type CoverArtSource string

const (
	CoverNone      CoverArtSource = ""
	CoverUploaded  CoverArtSource = "uploaded"  // previously uploaded by the user
	CoverExtracted CoverArtSource = "extracted" // pulled from the primary track / platform
)

// MixRequest is the full description of one mix operation. It is validated
// against the plan policy before any I/O happens and is never persisted
// verbatim; only the resulting MixRecord is.
type MixRequest struct {
	UserID      int64            `json:"-"`
	Source      SourceDescriptor `json:"source"`
	StagedToken string           `json:"stagedToken,omitempty"` // set when Source.Kind == staged
	Jingles     []JingleSpec     `json:"jingles"`
	CoverArt    CoverArtSource   `json:"coverArt"`
	CoverToken  string           `json:"coverToken,omitempty"` // uploaded cover reference
	PreviewOnly bool             `json:"previewOnly"`
	Title       string           `json:"title,omitempty"`  // metadata override
	Artist      string           `json:"artist,omitempty"` // metadata override
}

// MixRecord is the persisted result of a successful composition. Immutable
// after creation except for expiry bookkeeping.
type MixRecord struct {
	ID          int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID      int64      `json:"userId" gorm:"index;not null"`
	Title       string     `json:"title" gorm:"size:255"`
	Artist      string     `json:"artist" gorm:"size:255"`
	SourceKind  string     `json:"sourceKind" gorm:"size:32"`
	SourceRef   string     `json:"sourceRef" gorm:"size:512"`
	JingleRef   string     `json:"jingleRef" gorm:"size:255"` // comma-joined jingle IDs
	Position    string     `json:"position" gorm:"size:32"`
	CoverArtRef string     `json:"coverArtRef" gorm:"size:512"`
	OutputURL   string     `json:"outputUrl" gorm:"size:512"`
	OutputBytes int64      `json:"outputBytes"`
	IsPreview   bool       `json:"isPreview"`
	Durable     bool       `json:"durable"`
	StagedToken string     `json:"-" gorm:"size:64"` // staging token backing an ephemeral artifact
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"` // nil for durable artifacts
}

// TableName keeps the table name stable regardless of gorm pluralization.
func (MixRecord) TableName() string {
	return "mix_records"
}

// Expired reports whether an ephemeral artifact has passed its deletion time.
func (m *MixRecord) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}
