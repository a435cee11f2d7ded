package model

import "time"

type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionExpired   SessionStatus = "EXPIRED"
	SessionCancelled SessionStatus = "CANCELLED"
)

func (s SessionStatus) Terminal() bool {
	return s != SessionActive
}

type ChallengeType string

const (
	ChallengeBlink     ChallengeType = "blink"
	ChallengeHeadTurn  ChallengeType = "head_turn"
	ChallengeMouthOpen ChallengeType = "mouth_open"
	ChallengeSmile     ChallengeType = "smile"
	ChallengeNod       ChallengeType = "nod"
)

type Outcome string

const (
	OutcomePending  Outcome = "PENDING"
	OutcomePassed   Outcome = "PASSED"
	OutcomeFailed   Outcome = "FAILED"
	OutcomeTimedOut Outcome = "TIMED_OUT"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Face is one landmark set as returned by the external landmark provider.
type Face struct {
	Landmarks  []Point `json:"landmarks"`
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Luma is a decoded 8-bit grayscale frame, row-major.
type Luma struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Pix    []uint8 `json:"pix"`
}

func (l *Luma) At(x, y int) uint8 {
	return l.Pix[y*l.Width+x]
}

// MaxImageSide bounds each frame dimension.
const MaxImageSide = 1 << 15

// Valid reports whether the dimensions are in range and Pix covers them.
func (l *Luma) Valid() bool {
	if l == nil || l.Width <= 0 || l.Height <= 0 || l.Width > MaxImageSide || l.Height > MaxImageSide {
		return false
	}
	return int64(len(l.Pix)) >= int64(l.Width)*int64(l.Height)
}

type FrameInput struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Faces     []Face    `json:"faces"`
	Image     *Luma     `json:"image,omitempty"`
}

type DetectionScore struct {
	Texture      float64 `json:"texture"`
	BlinkPattern float64 `json:"blink_pattern"`
	Geometry     float64 `json:"geometry"`
	Temporal     float64 `json:"temporal"`
	Composite    float64 `json:"composite"`
}

type Challenge struct {
	Type        ChallengeType `json:"type"`
	Instruction string        `json:"instruction"`
	Timeout     time.Duration `json:"timeout"`
	StartedAt   time.Time     `json:"started_at"`
	Deadline    time.Time     `json:"deadline,omitzero"`
	EndedAt     time.Time     `json:"ended_at,omitzero"`
	Outcome     Outcome       `json:"outcome"`
}

type FrameResult struct {
	SessionID          string         `json:"session_id"`
	Seq                uint64         `json:"seq"`
	LivenessScore      float64        `json:"liveness_score"`
	DeepfakeScore      float64        `json:"deepfake_score"`
	Scores             DetectionScore `json:"scores"`
	FaceDetected       bool           `json:"face_detected"`
	FaceCount          int            `json:"face_count"`
	Suspect            bool           `json:"suspect"`
	ActionMetric       float64        `json:"action_metric"`
	Challenge          *Challenge     `json:"challenge,omitempty"`
	ChallengeConcluded bool           `json:"challenge_concluded"`
	SessionDeepfake    float64        `json:"session_deepfake"`
	SuspectRatio       float64        `json:"suspect_ratio"`
	MultiFaceRatio     float64        `json:"multi_face_ratio"`
	Analyzed           int            `json:"analyzed"`
}

type Verdict string

const (
	VerdictPassed Verdict = "PASSED"
	VerdictFailed Verdict = "FAILED"
)

type Completion struct {
	SessionID       string      `json:"session_id"`
	UserID          string      `json:"user_id"`
	Status          Verdict     `json:"status"`
	LivenessScore   float64     `json:"liveness_score"`
	DeepfakeScore   float64     `json:"deepfake_score"`
	PresenceRatio   float64     `json:"presence_ratio"`
	Challenges      []Challenge `json:"challenges"`
	Recommendations []string    `json:"recommendations"`
	Alerts          []Alert     `json:"alerts"`
	CompletedAt     time.Time   `json:"completed_at"`
}

type SessionView struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Status         SessionStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	Queue          []ChallengeType `json:"queue"`
	Challenges     []Challenge     `json:"challenges"`
	Frames         int             `json:"frames"`
	FacesDetected  int             `json:"faces_detected"`
	AnalyzedFrames int             `json:"analyzed_frames"`
	SuspectFrames  int             `json:"suspect_frames"`
	Latest         *FrameResult    `json:"latest,omitempty"`
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

type AlertType string

const (
	AlertDeepfakeDetected      AlertType = "deepfake_detected"
	AlertLivenessFailed        AlertType = "liveness_failed"
	AlertUnusualGeometry       AlertType = "unusual_geometry"
	AlertTextureAnomaly        AlertType = "texture_anomaly"
	AlertBlinkPatternAnomaly   AlertType = "blink_pattern_anomaly"
	AlertTemporalInconsistency AlertType = "temporal_inconsistency"
	AlertFaceNotDetected       AlertType = "face_not_detected"
	AlertMultipleFaces         AlertType = "multiple_faces"
	AlertChallengeTimeout      AlertType = "challenge_timeout"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "ACTIVE"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
)

// DetectionEvent is the classifier input: something the pipeline observed
// that may warrant an alert.
type DetectionEvent struct {
	SessionID string    `json:"session_id"`
	Type      AlertType `json:"type"`
	Score     float64   `json:"score"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Alert struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	Type           AlertType         `json:"type"`
	Severity       Severity          `json:"severity"`
	Status         AlertStatus       `json:"status"`
	Message        string            `json:"message"`
	Score          float64           `json:"score"`
	Channels       []string          `json:"channels"`
	CreatedAt      time.Time         `json:"created_at"`
	Timestamp      time.Time         `json:"timestamp"`
	Occurrences    int               `json:"occurrences"`
	AcknowledgedBy string            `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
}

// Clone returns a copy that shares no mutable state with a.
func (a Alert) Clone() Alert {
	out := a
	if a.Channels != nil {
		out.Channels = append([]string(nil), a.Channels...)
	}
	if a.AcknowledgedAt != nil {
		ts := *a.AcknowledgedAt
		out.AcknowledgedAt = &ts
	}
	if a.Context != nil {
		out.Context = make(map[string]string, len(a.Context))
		for k, v := range a.Context {
			out.Context[k] = v
		}
	}
	return out
}

type AlertStats struct {
	Total      int               `json:"total"`
	Active     int               `json:"active"`
	BySeverity map[Severity]int  `json:"by_severity"`
	ByType     map[AlertType]int `json:"by_type"`
}
