package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/therassist/session-coordinator/internal/domain"
)

// Colors used by the terminal renderer.
var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorGreen  = lipgloss.Color("#87D787")
	colorGray   = lipgloss.Color("#808080")
)

var (
	timestampStyle = lipgloss.NewStyle().Foreground(colorGray)
	speakerStyle   = lipgloss.NewStyle().Foreground(colorCyan)
	statusStyle    = lipgloss.NewStyle().Foreground(colorGray).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	guidanceStyle  = lipgloss.NewStyle().Foreground(colorGreen)
	headingStyle   = lipgloss.NewStyle().Bold(true).Underline(true)

	alertNowStyle   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	alertPauseStyle = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	alertInfoStyle  = lipgloss.NewStyle().Foreground(colorCyan)
)

func alertStyle(timing domain.Timing) lipgloss.Style {
	switch timing {
	case domain.TimingNow:
		return alertNowStyle
	case domain.TimingPause:
		return alertPauseStyle
	default:
		return alertInfoStyle
	}
}

type alertKey struct {
	job   domain.JobID
	title string
}

// renderer prints session updates for the headless run command. Interim
// transcript and repeated state ticks are skipped so the output reads as a
// log of what happened.
type renderer struct {
	mu  sync.Mutex
	out io.Writer

	state    domain.SessionState
	conn     domain.ConnectionState
	seen     map[alertKey]bool
	guidance domain.JobID
	phase    domain.AwaitPhase
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:  out,
		seen: make(map[alertKey]bool),
	}
}

func (r *renderer) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *renderer) SessionStateChanged(status domain.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status.State == r.state && status.Connection == r.conn {
		return
	}
	r.state = status.State
	r.conn = status.Connection
	r.printf("%s\n", statusStyle.Render(fmt.Sprintf("[%s] session %s, transcription %s",
		clock(status.Elapsed), status.State, status.Connection)))
}

func (r *renderer) TranscriptChanged(entry domain.TranscriptEntry) {
	if entry.IsInterim {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	speaker := entry.Speaker
	if speaker == "" {
		speaker = "conversation"
	}
	r.printf("%s %s %s\n",
		timestampStyle.Render(entry.Timestamp.Local().Format("15:04:05")),
		speakerStyle.Render(speaker+":"),
		entry.Text)
}

func (r *renderer) SpeechActivity(domain.SpeechEvent) {}

// AlertsChanged prints alerts not shown before. The list is newest first,
// so it is walked backwards to print in arrival order.
func (r *renderer) AlertsChanged(alerts []domain.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(alerts) - 1; i >= 0; i-- {
		alert := alerts[i]
		key := alertKey{job: alert.Job, title: alert.Title}
		if r.seen[key] {
			continue
		}
		r.seen[key] = true

		style := alertStyle(alert.Timing)
		r.printf("%s %s\n", style.Render(fmt.Sprintf("▲ %s [%s/%s]", alert.Title, alert.Category, alert.Timing)), alert.Message)
		if alert.Recommendation != "" {
			r.printf("    → %s\n", alert.Recommendation)
		}
	}
}

func (r *renderer) GuidanceChanged(view domain.GuidanceView) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if view.Phase == r.phase && view.Job == r.guidance {
		return
	}
	r.phase = view.Phase
	r.guidance = view.Job

	switch view.Phase {
	case domain.AwaitDisplayed:
		if view.Guidance == nil {
			return
		}
		r.printf("%s %s\n", guidanceStyle.Render(fmt.Sprintf("◆ Pathway guidance (job %d):", view.Job)), view.Guidance.Rationale)
		for _, action := range view.Guidance.ImmediateActions {
			r.printf("    • %s\n", action)
		}
		for _, c := range view.Citations {
			r.printf("    [%d] %s\n", c.Number, c.Title)
		}
	case domain.AwaitExpired:
		r.printf("%s\n", statusStyle.Render(fmt.Sprintf("pathway guidance for job %d did not arrive", view.Job)))
	}
}

func (r *renderer) MetricsChanged(domain.SessionMetrics) {}

func (r *renderer) SessionError(code domain.ErrorCode, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printf("%s %s\n", errorStyle.Render(fmt.Sprintf("✗ %s:", code)), detail)
}

func (r *renderer) SummaryReady(summary domain.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printf("\n%s\n", headingStyle.Render("Session summary"))
	if summary.Text != "" {
		r.printf("%s\n", summary.Text)
	}
	if summary.DurationMinutes > 0 {
		r.printf("Duration: %.0f min\n", summary.DurationMinutes)
	}
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		r.printf("%s\n", speakerStyle.Render(title))
		for _, item := range items {
			r.printf("  • %s\n", item)
		}
	}

	moments := make([]string, 0, len(summary.KeyMoments))
	for _, m := range summary.KeyMoments {
		moments = append(moments, strings.TrimSpace(m.Time+" "+m.Description))
	}
	section("Key moments", moments)
	section("Techniques used", summary.TechniquesUsed)
	section("Progress", summary.ProgressIndicators)
	section("Areas for improvement", summary.AreasForImprovement)

	homework := make([]string, 0, len(summary.HomeworkAssignments))
	for _, h := range summary.HomeworkAssignments {
		homework = append(homework, h.Task)
	}
	section("Homework", homework)
	section("Follow-up", summary.FollowUpRecommendations)

	if risk := summary.RiskAssessment; risk != nil {
		style := alertInfoStyle
		if strings.EqualFold(risk.Level, "high") {
			style = alertNowStyle
		}
		r.printf("%s %s\n", speakerStyle.Render("Risk:"), style.Render(risk.Level))
	}
}

// clock formats a duration as mm:ss, or h:mm:ss past an hour
func clock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
