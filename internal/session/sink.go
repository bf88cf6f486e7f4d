package session

import (
	"github.com/therassist/session-coordinator/internal/domain"
	"github.com/therassist/session-coordinator/internal/ports"
)

// Fanout forwards every update to each sink in order
type Fanout []ports.EventSink

func (f Fanout) SessionStateChanged(status domain.Status) {
	for _, s := range f {
		s.SessionStateChanged(status)
	}
}

func (f Fanout) TranscriptChanged(entry domain.TranscriptEntry) {
	for _, s := range f {
		s.TranscriptChanged(entry)
	}
}

func (f Fanout) SpeechActivity(event domain.SpeechEvent) {
	for _, s := range f {
		s.SpeechActivity(event)
	}
}

func (f Fanout) AlertsChanged(alerts []domain.Alert) {
	for _, s := range f {
		s.AlertsChanged(alerts)
	}
}

func (f Fanout) GuidanceChanged(view domain.GuidanceView) {
	for _, s := range f {
		s.GuidanceChanged(view)
	}
}

func (f Fanout) MetricsChanged(metrics domain.SessionMetrics) {
	for _, s := range f {
		s.MetricsChanged(metrics)
	}
}

func (f Fanout) SessionError(code domain.ErrorCode, detail string) {
	for _, s := range f {
		s.SessionError(code, detail)
	}
}

func (f Fanout) SummaryReady(summary domain.Summary) {
	for _, s := range f {
		s.SummaryReady(summary)
	}
}

// nopSink discards updates
type nopSink struct{}

func (nopSink) SessionStateChanged(domain.Status)        {}
func (nopSink) TranscriptChanged(domain.TranscriptEntry) {}
func (nopSink) SpeechActivity(domain.SpeechEvent)        {}
func (nopSink) AlertsChanged([]domain.Alert)             {}
func (nopSink) GuidanceChanged(domain.GuidanceView)      {}
func (nopSink) MetricsChanged(domain.SessionMetrics)     {}
func (nopSink) SessionError(domain.ErrorCode, string)    {}
func (nopSink) SummaryReady(domain.Summary)              {}
