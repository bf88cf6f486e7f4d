package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/therassist/session-coordinator/internal/domain"
)

const (
	actionAnalyzeSegment = "analyze_segment"
	actionSessionSummary = "session_summary"
)

// analyzeRequest is the body of one side of a job
type analyzeRequest struct {
	Action                 string                  `json:"action"`
	TranscriptSegment      []domain.TranscriptLine `json:"transcript_segment"`
	SessionContext         sessionContext          `json:"session_context"`
	SessionDurationMinutes int                     `json:"session_duration_minutes"`
	IsRealtime             bool                    `json:"is_realtime"`
	PreviousAlert          *domain.Alert           `json:"previous_alert,omitempty"`
	JobID                  domain.JobID            `json:"job_id"`
}

type sessionContext struct {
	domain.SessionContext
	Phase      string `json:"phase,omitempty"`
	IsRealtime bool   `json:"is_realtime"`
}

func newAnalyzeRequest(req domain.AnalysisRequest) analyzeRequest {
	realtime := req.Kind == domain.AnalysisRealtime
	segment := req.Segment
	if segment == nil {
		segment = []domain.TranscriptLine{}
	}
	return analyzeRequest{
		Action:            actionAnalyzeSegment,
		TranscriptSegment: segment,
		SessionContext: sessionContext{
			SessionContext: req.Context,
			Phase:          req.Phase,
			IsRealtime:     realtime,
		},
		SessionDurationMinutes: int(req.SessionDurationMinutes),
		IsRealtime:             realtime,
		PreviousAlert:          req.PreviousAlert,
		JobID:                  req.Job,
	}
}

type summaryRequest struct {
	Action                 string                  `json:"action"`
	FullTranscript         []domain.TranscriptLine `json:"full_transcript"`
	SessionMetrics         domain.SessionMetrics   `json:"session_metrics"`
	SessionDurationMinutes int                     `json:"session_duration_minutes"`
}

type summaryResponse struct {
	Summary json.RawMessage `json:"summary"`
	Error   string          `json:"error"`
}

// responseLine is one NDJSON object of an analysis response
type responseLine struct {
	AnalysisType      string                    `json:"analysis_type"`
	JobID             *domain.JobID             `json:"job_id"`
	Error             string                    `json:"error"`
	Alert             *wireAlert                `json:"alert"`
	Alerts            []wireAlert               `json:"alerts"`
	SessionMetrics    *domain.SessionMetrics    `json:"session_metrics"`
	PathwayIndicators *domain.PathwayIndicators `json:"pathway_indicators"`
	PathwayGuidance   *domain.PathwayGuidance   `json:"pathway_guidance"`
	Citations         []wireCitation            `json:"citations"`
}

type wireAlert struct {
	Timing         string   `json:"timing"`
	Category       string   `json:"category"`
	Title          string   `json:"title"`
	Message        string   `json:"message"`
	Evidence       []string `json:"evidence"`
	Recommendation string   `json:"recommendation"`
}

type wireCitation struct {
	CitationNumber int `json:"citation_number"`
	Source         *struct {
		Title   string            `json:"title"`
		URI     string            `json:"uri"`
		Excerpt string            `json:"excerpt"`
		Pages   *domain.PageRange `json:"pages"`
	} `json:"source"`
}

// decodeLine decodes one response line into a typed result. kind and job
// come from the request and fill in what the line omits.
func decodeLine(data []byte, kind domain.AnalysisKind, job domain.JobID) (domain.AnalysisResult, error) {
	var line responseLine
	if err := json.Unmarshal(data, &line); err != nil {
		return nil, fmt.Errorf("malformed analysis line: %w", err)
	}
	if line.Error != "" {
		return nil, fmt.Errorf("analysis backend error: %s", line.Error)
	}

	if line.JobID != nil && *line.JobID > 0 {
		job = *line.JobID
	}

	switch lineKind(line.AnalysisType, kind) {
	case domain.AnalysisRealtime:
		result := domain.RealtimeResult{Job: job, Metrics: line.SessionMetrics}
		if alert := line.firstAlert(); alert != nil {
			result.Alert = alert.payload()
		}
		return result, nil

	case domain.AnalysisComprehensive:
		return domain.ComprehensiveResult{
			Job:        job,
			Metrics:    line.SessionMetrics,
			Indicators: line.PathwayIndicators,
			Guidance:   line.PathwayGuidance,
			Citations:  convertCitations(line.Citations),
		}, nil

	default:
		return nil, fmt.Errorf("unknown analysis_type %q", line.AnalysisType)
	}
}

func lineKind(raw string, fallback domain.AnalysisKind) domain.AnalysisKind {
	if raw == "" {
		return fallback
	}
	return domain.AnalysisKind(strings.ToLower(raw))
}

func (l responseLine) firstAlert() *wireAlert {
	if l.Alert != nil && l.Alert.Title != "" {
		return l.Alert
	}
	for i := range l.Alerts {
		if l.Alerts[i].Title != "" || l.Alerts[i].Message != "" {
			return &l.Alerts[i]
		}
	}
	return nil
}

func (a wireAlert) payload() *domain.AlertPayload {
	return &domain.AlertPayload{
		Category:       domain.NormalizeCategory(a.Category),
		Timing:         domain.NormalizeTiming(a.Timing),
		Title:          strings.TrimSpace(a.Title),
		Message:        strings.TrimSpace(a.Message),
		Recommendation: a.Recommendation,
		Evidence:       a.Evidence,
	}
}

func convertCitations(in []wireCitation) []domain.Citation {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Citation, 0, len(in))
	for i, c := range in {
		citation := domain.Citation{Number: c.CitationNumber}
		if citation.Number == 0 {
			citation.Number = i + 1
		}
		if c.Source != nil {
			citation.Title = c.Source.Title
			citation.URI = c.Source.URI
			citation.Excerpt = c.Source.Excerpt
			citation.Pages = c.Source.Pages
		}
		out = append(out, citation)
	}
	return out
}

// decodeSummary accepts either a structured summary or prose
func decodeSummary(raw json.RawMessage) (domain.Summary, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Summary{}, fmt.Errorf("response has no summary")
	}

	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return domain.Summary{}, fmt.Errorf("malformed summary: %w", err)
		}
		return domain.Summary{Text: text}, nil
	}

	var summary domain.Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return domain.Summary{}, fmt.Errorf("malformed summary: %w", err)
	}
	return summary, nil
}
