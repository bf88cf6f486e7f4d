package domain

import "time"

// SessionState models the recording lifecycle.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateRecording SessionState = "recording"
	SessionStatePaused    SessionState = "paused"
	SessionStateStopped   SessionState = "stopped"
)

// CaptureMode selects where session audio comes from.
type CaptureMode string

const (
	CaptureModeMicrophone CaptureMode = "microphone"
	CaptureModeFile       CaptureMode = "file"
	CaptureModeScripted   CaptureMode = "scripted-test"
)

// Valid reports whether m is a known capture mode.
func (m CaptureMode) Valid() bool {
	switch m {
	case CaptureModeMicrophone, CaptureModeFile, CaptureModeScripted:
		return true
	}
	return false
}

// ConnectionState reflects the transcription transport as seen by the UI.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
)

// ErrorCode identifies errors reported upward to the session lifecycle.
type ErrorCode string

const (
	ErrorCodeCapture   ErrorCode = "capture_unavailable"
	ErrorCodeTransport ErrorCode = "transport"
	ErrorCodeSummary   ErrorCode = "summary"
)

// Category classifies an alert.
type Category string

const (
	CategorySafety        Category = "safety"
	CategoryTechnique     Category = "technique"
	CategoryPathwayChange Category = "pathway_change"
	CategoryEngagement    Category = "engagement"
	CategoryProcess       Category = "process"
	CategoryGeneral       Category = "general"
)

// NormalizeCategory maps unknown categories to CategoryGeneral.
func NormalizeCategory(raw string) Category {
	switch c := Category(raw); c {
	case CategorySafety, CategoryTechnique, CategoryPathwayChange, CategoryEngagement, CategoryProcess:
		return c
	}
	return CategoryGeneral
}

// Timing is how urgently an alert should be acted on.
type Timing string

const (
	TimingNow   Timing = "now"
	TimingPause Timing = "pause"
	TimingInfo  Timing = "info"
)

// NormalizeTiming maps unknown timings to TimingInfo.
func NormalizeTiming(raw string) Timing {
	switch t := Timing(raw); t {
	case TimingNow, TimingPause:
		return t
	}
	return TimingInfo
}

// JobID correlates a real-time/comprehensive request pair. Zero means no job.
type JobID int64

// Alert is an immutable real-time guidance item.
type Alert struct {
	Category       Category  `json:"category"`
	Timing         Timing    `json:"timing"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Recommendation string    `json:"recommendation,omitempty"`
	Evidence       []string  `json:"evidence,omitempty"`
	Job            JobID     `json:"job_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// AlternativePathway is a suggested alternative therapeutic approach.
type AlternativePathway struct {
	Approach   string   `json:"approach"`
	Reason     string   `json:"reason"`
	Techniques []string `json:"techniques,omitempty"`
}

// PathwayGuidance is replaced wholesale by each accepted comprehensive response.
type PathwayGuidance struct {
	ContinueCurrent     *bool                `json:"continue_current,omitempty"`
	Rationale           string               `json:"rationale"`
	ImmediateActions    []string             `json:"immediate_actions,omitempty"`
	Contraindications   []string             `json:"contraindications,omitempty"`
	AlternativePathways []AlternativePathway `json:"alternative_pathways,omitempty"`
}

// PageRange is an inclusive page span within a cited source.
type PageRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// Citation is a numbered reference used as [n] inside guidance text.
type Citation struct {
	Number  int        `json:"number"`
	Title   string     `json:"title,omitempty"`
	URI     string     `json:"uri,omitempty"`
	Excerpt string     `json:"excerpt,omitempty"`
	Pages   *PageRange `json:"pages,omitempty"`
}

// PathwayIndicators summarises how well the current approach is working.
type PathwayIndicators struct {
	CurrentApproachEffectiveness string   `json:"current_approach_effectiveness,omitempty"`
	AlternativePathways          []string `json:"alternative_pathways,omitempty"`
	ChangeUrgency                string   `json:"change_urgency,omitempty"`
}

// SessionMetrics are process measurements reported by either analysis path.
type SessionMetrics struct {
	EngagementLevel     *float64 `json:"engagement_level,omitempty"`
	TherapeuticAlliance string   `json:"therapeutic_alliance,omitempty"`
	EmotionalState      string   `json:"emotional_state,omitempty"`
	TechniquesDetected  []string `json:"techniques_detected,omitempty"`
	PhaseAppropriate    *bool    `json:"phase_appropriate,omitempty"`
}

// Merge overlays the non-empty fields of next onto m.
func (m SessionMetrics) Merge(next SessionMetrics) SessionMetrics {
	if next.EngagementLevel != nil {
		m.EngagementLevel = next.EngagementLevel
	}
	if next.TherapeuticAlliance != "" {
		m.TherapeuticAlliance = next.TherapeuticAlliance
	}
	if next.EmotionalState != "" {
		m.EmotionalState = next.EmotionalState
	}
	if len(next.TechniquesDetected) > 0 {
		m.TechniquesDetected = next.TechniquesDetected
	}
	if next.PhaseAppropriate != nil {
		m.PhaseAppropriate = next.PhaseAppropriate
	}
	return m
}

// SessionContext describes the session for the analysis backend.
type SessionContext struct {
	SessionType     string `json:"session_type,omitempty"`
	PrimaryConcern  string `json:"primary_concern,omitempty"`
	CurrentApproach string `json:"current_approach,omitempty"`
}

// TranscriptLine is one final transcript entry as sent to the analysis backend.
type TranscriptLine struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// KeyMoment is a notable point in a session summary.
type KeyMoment struct {
	Time         string `json:"time"`
	Description  string `json:"description"`
	Significance string `json:"significance"`
}

// Homework is an assignment recommended by a session summary.
type Homework struct {
	Task            string `json:"task"`
	Rationale       string `json:"rationale"`
	ManualReference string `json:"manual_reference,omitempty"`
}

// RiskAssessment is the summary's risk rating.
type RiskAssessment struct {
	Level   string   `json:"level"`
	Factors []string `json:"factors,omitempty"`
}

// Summary is the terminal session summary returned after stop.
type Summary struct {
	SessionDate             string          `json:"session_date,omitempty"`
	DurationMinutes         float64         `json:"duration_minutes,omitempty"`
	KeyMoments              []KeyMoment     `json:"key_moments,omitempty"`
	TechniquesUsed          []string        `json:"techniques_used,omitempty"`
	ProgressIndicators      []string        `json:"progress_indicators,omitempty"`
	AreasForImprovement     []string        `json:"areas_for_improvement,omitempty"`
	HomeworkAssignments     []Homework      `json:"homework_assignments,omitempty"`
	FollowUpRecommendations []string        `json:"follow_up_recommendations,omitempty"`
	RiskAssessment          *RiskAssessment `json:"risk_assessment,omitempty"`
	// Text holds the summary when the backend returned prose instead of JSON.
	Text string `json:"text,omitempty"`
}

// TranscriptEntry is one accumulated transcript segment. Final entries are
// immutable; only a single trailing interim entry may be replaced.
type TranscriptEntry struct {
	Text       string    `json:"text"`
	Speaker    string    `json:"speaker,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	IsInterim  bool      `json:"is_interim"`
	// ReceivedAt is the coordinator's clock when the segment arrived.
	ReceivedAt time.Time `json:"-"`
}

// Status summarises the lifecycle for observers.
type Status struct {
	SessionID  string          `json:"session_id,omitempty"`
	State      SessionState    `json:"state"`
	Mode       CaptureMode     `json:"mode,omitempty"`
	Connection ConnectionState `json:"connection"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	Elapsed    time.Duration   `json:"elapsed"`
	Paused     time.Duration   `json:"paused"`
}

// AwaitPhase is the comprehensive-guidance correlation state. A single job
// id accompanies the phase, so "waiting" and "displayed" can never refer to
// different jobs.
type AwaitPhase string

const (
	AwaitNone      AwaitPhase = "none"
	AwaitPending   AwaitPhase = "awaiting"
	AwaitDisplayed AwaitPhase = "displayed"
	AwaitExpired   AwaitPhase = "expired"
)

// GuidanceView is the comprehensive-path state shown to the UI.
type GuidanceView struct {
	Phase       AwaitPhase         `json:"phase"`
	Job         JobID              `json:"job_id"`
	RealtimeJob JobID              `json:"realtime_job_id"`
	Guidance    *PathwayGuidance   `json:"guidance,omitempty"`
	Indicators  *PathwayIndicators `json:"indicators,omitempty"`
	Citations   []Citation         `json:"citations,omitempty"`
}
