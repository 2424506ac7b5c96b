// Package floor contains the core domain types and per-camera track
// lifecycle state for the multi-camera person analytics engine.
//
// The engine consumes per-camera person detections (bounding box, pose
// keypoints, appearance/face embeddings), maintains a local track per
// continuously-visible person per camera, links tracks to cross-camera
// global identities, and feeds each track's joint-angle signal into the
// exercise session engine.
package floor

import "time"

//
// 0) Cameras & observations
//

// CameraID is a human-readable camera name like "cam/floor-east-01".
type CameraID string

// TrackKey uniquely identifies a local track across the venue:
// the upstream tracker's integer ID is only unique within one camera.
type TrackKey struct {
	Camera  CameraID
	LocalID int64
}

// BoundingBox is a detector box in normalised image coordinates.
type BoundingBox struct {
	X1, Y1     float32
	X2, Y2     float32
	Confidence float32
}

// CenterX returns the horizontal centre of the box.
func (b BoundingBox) CenterX() float32 { return (b.X1 + b.X2) / 2 }

// CenterY returns the vertical centre of the box.
func (b BoundingBox) CenterY() float32 { return (b.Y1 + b.Y2) / 2 }

// Keypoint is a single pose keypoint in normalised image coordinates.
// Visibility is the detector's confidence that the point is observed.
type Keypoint struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Visibility float32 `json:"visibility"`
}

// Keypoint indices follow the 17-point YOLO pose convention.
const (
	KPNose          = 0
	KPLeftEye       = 1
	KPRightEye      = 2
	KPLeftEar       = 3
	KPRightEar      = 4
	KPLeftShoulder  = 5
	KPRightShoulder = 6
	KPLeftElbow     = 7
	KPRightElbow    = 8
	KPLeftWrist     = 9
	KPRightWrist    = 10
	KPLeftHip       = 11
	KPRightHip      = 12
	KPLeftKnee      = 13
	KPRightKnee     = 14
	KPLeftAnkle     = 15
	KPRightAnkle    = 16

	// NumKeypoints is the expected keypoint count per observation.
	NumKeypoints = 17
)

// Embedding dimensions produced by the upstream perception service.
const (
	AppearanceDim = 256
	FaceDim       = 512
)

// Observation is one detected person in one frame on one camera.
// Timestamps are monotonic per camera only; never compare timestamps
// across cameras.
type Observation struct {
	CameraID    CameraID    `json:"camera_id"`
	LocalID     int64       `json:"track_id"`
	TimestampNS int64       `json:"timestamp_ns"`
	BBox        BoundingBox `json:"bbox"`
	Keypoints   []Keypoint  `json:"keypoints"`
	Appearance  []float32   `json:"appearance_embedding"`
	Face        []float32   `json:"face_embedding,omitempty"`
}

// Key returns the venue-unique track key for this observation.
func (o *Observation) Key() TrackKey {
	return TrackKey{Camera: o.CameraID, LocalID: o.LocalID}
}

//
// 1) Track lifecycle
//

// TrackState represents the lifecycle state of a local track.
type TrackState string

const (
	// TrackActive means an observation arrived within the active timeout.
	TrackActive TrackState = "active"
	// TrackLost means the track has been silent beyond the active timeout
	// but is still eligible for re-association and gating.
	TrackLost TrackState = "lost"
	// TrackClosed means the track has been silent beyond the close timeout.
	// Closed tracks are retained briefly for spatial-temporal gating and
	// then purged by the sweep.
	TrackClosed TrackState = "closed"
)

// LocalTrack is a person instance tracked continuously within one
// camera's field of view. It is owned exclusively by the lifecycle
// Arena; the resolver and exercise engine hold references only.
type LocalTrack struct {
	Key   TrackKey
	State TrackState

	CreatedNS  int64
	LastSeenNS int64
	ClosedNS   int64 // set when the track transitions to closed

	// Last observed box centre, used for exit-zone gating on close.
	LastCenterX float32
	LastCenterY float32

	// ObservationCount counts accepted (valid) observations.
	ObservationCount int

	// Bounded rolling window of recent appearance embeddings.
	appearanceWindow [][]float32
	// Most recent face embedding, nil if the detector never produced one.
	lastFace []float32
}

// AppearanceWindow returns a copy of the track's recent appearance
// embeddings, oldest first.
func (t *LocalTrack) AppearanceWindow() [][]float32 {
	out := make([][]float32, len(t.appearanceWindow))
	copy(out, t.appearanceWindow)
	return out
}

// LastFace returns the most recent face embedding or nil.
func (t *LocalTrack) LastFace() []float32 { return t.lastFace }

//
// 2) Identities & linkages
//

// IdentityID is the UUID of a global identity: either an enrolled person
// or an anonymous placeholder scoped to current floor presence.
type IdentityID string

// LinkMethod records how a track was linked to an identity.
type LinkMethod string

const (
	LinkAppearance   LinkMethod = "appearance"
	LinkFaceOverride LinkMethod = "face_override"
)

// Linkage binds a local track to a global identity. At most one active
// linkage exists per local track; a linkage is only ever revoked or
// replaced, never silently duplicated.
type Linkage struct {
	Track      TrackKey
	Identity   IdentityID
	Confidence float64
	Method     LinkMethod
	ResolvedNS int64
}

//
// 3) Small helper to tag engine events for diagnostics
//

// Event is a loosely-typed diagnostic record surfaced on the API.
type Event struct {
	When    time.Time
	Level   string // "info","warn","error","debug"
	Message string
	Context map[string]any
}
