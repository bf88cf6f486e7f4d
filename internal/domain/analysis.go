package domain

// AnalysisKind identifies one side of a dispatched request pair.
type AnalysisKind string

const (
	AnalysisRealtime      AnalysisKind = "realtime"
	AnalysisComprehensive AnalysisKind = "comprehensive"
)

// AnalysisResult is a decoded analysis response line. The concrete type is
// RealtimeResult or ComprehensiveResult.
type AnalysisResult interface {
	JobID() JobID
	Kind() AnalysisKind
}

// AlertPayload is a candidate alert before it is stamped with job and time.
type AlertPayload struct {
	Category       Category
	Timing         Timing
	Title          string
	Message        string
	Recommendation string
	Evidence       []string
}

// RealtimeResult is the fast-path response of a job.
type RealtimeResult struct {
	Job     JobID
	Alert   *AlertPayload
	Metrics *SessionMetrics
}

// ComprehensiveResult is the retrieval-augmented response of a job.
type ComprehensiveResult struct {
	Job        JobID
	Metrics    *SessionMetrics
	Indicators *PathwayIndicators
	Guidance   *PathwayGuidance
	Citations  []Citation
}

func (r RealtimeResult) JobID() JobID            { return r.Job }
func (r RealtimeResult) Kind() AnalysisKind      { return AnalysisRealtime }
func (r ComprehensiveResult) JobID() JobID       { return r.Job }
func (r ComprehensiveResult) Kind() AnalysisKind { return AnalysisComprehensive }

// AnalysisRequest is the snapshot sent with one side of a job. It is built
// at dispatch time and never reads live session state afterwards.
type AnalysisRequest struct {
	Job                    JobID
	Kind                   AnalysisKind
	Segment                []TranscriptLine
	Context                SessionContext
	Phase                  string
	SessionDurationMinutes float64
	PreviousAlert          *Alert
}

// SummaryRequest is the terminal one-shot summary request.
type SummaryRequest struct {
	FullTranscript  []TranscriptLine
	Metrics         SessionMetrics
	DurationMinutes float64
}
