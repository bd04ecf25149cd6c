package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/interactionlab/tandem/internal/adapter/pubsub"
	"github.com/interactionlab/tandem/internal/domain/event"
	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
)

var (
	// ErrInvalidExport means the body failed schema validation; the caller
	// surfaces error(invalid_export) to the client.
	ErrInvalidExport = errors.New("invalid validation export")
	// ErrNoWindow means no collection window is open for the session; late
	// and unsolicited exports land here and are dropped.
	ErrNoWindow = errors.New("no open export window")
	// ErrUnexpectedSubject means the session never expected this reporter.
	ErrUnexpectedSubject = errors.New("subject not expected to export")
)

// Document is the finalized per-session audit artifact.
type Document struct {
	SessionID   model.SessionID                             `json:"session_id"`
	SceneID     model.SceneID                               `json:"scene_id"`
	Reason      state.TerminationReason                     `json:"reason"`
	Expected    []model.SubjectID                           `json:"expected"`
	Exports     map[model.SubjectID]*model.ValidationExport `json:"exports"`
	Parity      Report                                      `json:"parity"`
	TimedOut    bool                                        `json:"timed_out"`
	EndedAt     time.Time                                   `json:"ended_at"`
	FinalizedAt time.Time                                   `json:"finalized_at"`
}

type window struct {
	sceneID  model.SceneID
	reason   state.TerminationReason
	endedAt  time.Time
	expected map[model.SubjectID]struct{}
	received map[model.SubjectID]*model.ValidationExport
	timer    *time.Timer
}

func (w *window) complete() bool { return len(w.received) == len(w.expected) }

// Sink collects post-session validation exports, cross-checks them and
// persists the research artifacts. Windows arm on session end and close
// either when every expected export arrived or when the audit retention
// window runs out, whichever comes first.
type Sink struct {
	logger     *slog.Logger
	writer     *Writer
	schema     *jsonschema.Schema
	dispatcher pubsub.EventDispatcher
	retention  time.Duration

	mu      sync.Mutex
	windows map[model.SessionID]*window
}

func NewSink(logger *slog.Logger, writer *Writer, dispatcher pubsub.EventDispatcher, retention time.Duration) (*Sink, error) {
	schema, err := compileExportSchema()
	if err != nil {
		return nil, err
	}
	return &Sink{
		logger:     logger.With(slog.String("component", "audit_sink")),
		writer:     writer,
		schema:     schema,
		dispatcher: dispatcher,
		retention:  retention,
		windows:    make(map[model.SessionID]*window),
	}, nil
}

// Arm opens the collection window for an ended session and records the
// termination in the events log. Sessions that never played expect no
// exports and get no window.
func (s *Sink) Arm(ev event.SessionEndedEvent) {
	if err := s.writer.AppendEvent(map[string]any{
		"type":       "termination",
		"session_id": ev.SessionID,
		"scene_id":   ev.SceneID,
		"reason":     ev.Reason,
		"raw_reason": ev.RawReason,
		"ended_at":   ev.EndedAt,
	}); err != nil {
		s.logger.Error("events log append failed", slog.Any("err", err))
	}

	if len(ev.ExpectedExports) == 0 {
		return
	}

	w := &window{
		sceneID:  ev.SceneID,
		reason:   ev.Reason,
		endedAt:  ev.EndedAt,
		expected: make(map[model.SubjectID]struct{}, len(ev.ExpectedExports)),
		received: make(map[model.SubjectID]*model.ValidationExport),
	}
	for _, sub := range ev.ExpectedExports {
		w.expected[sub] = struct{}{}
	}
	w.timer = time.AfterFunc(s.retention, func() { s.finalize(ev.SessionID, true) })

	s.mu.Lock()
	s.windows[ev.SessionID] = w
	s.mu.Unlock()

	s.logger.Info("export window armed",
		slog.String("session_id", string(ev.SessionID)),
		slog.Int("expected", len(ev.ExpectedExports)))
}

// Receive accepts one client export. Schema violations reject with
// ErrInvalidExport; exports for closed windows are dropped with a warning
// and ErrNoWindow, per policy: the researcher gets a partial artifact
// rather than an artifact that mutates after finalize.
func (s *Sink) Receive(ctx context.Context, subject model.SubjectID, sessionID model.SessionID, raw json.RawMessage) error {
	if err := validateExport(s.schema, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	var export model.ValidationExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	export.SessionID = sessionID
	export.SubjectID = subject
	export.ReceivedAt = time.Now()

	s.mu.Lock()
	w, ok := s.windows[sessionID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("dropping export outside collection window",
			slog.String("session_id", string(sessionID)),
			slog.String("subject_id", string(subject)))
		return ErrNoWindow
	}
	if _, expected := w.expected[subject]; !expected {
		s.mu.Unlock()
		return ErrUnexpectedSubject
	}
	w.received[subject] = &export
	done := w.complete()
	s.mu.Unlock()

	if err := s.dispatcher.Publish(ctx, event.TopicExportReceived, event.ExportReceivedEvent{
		SessionID: sessionID, SubjectID: subject,
	}); err != nil {
		s.logger.Error("bus publish failed",
			slog.String("topic", event.TopicExportReceived),
			slog.Any("err", err))
	}

	if done {
		s.finalize(sessionID, false)
	}
	return nil
}

// finalize closes the window, runs parity and persists the artifact. Runs
// at most once per session: the early-completion and timeout paths race
// for the window and the loser finds it gone.
func (s *Sink) finalize(sessionID model.SessionID, timedOut bool) {
	s.mu.Lock()
	w, ok := s.windows[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.windows, sessionID)
	s.mu.Unlock()
	w.timer.Stop()

	expected := make([]model.SubjectID, 0, len(w.expected))
	for sub := range w.expected {
		expected = append(expected, sub)
	}
	report := ValidateParity(sessionID, expected, w.received)

	doc := Document{
		SessionID:   sessionID,
		SceneID:     w.sceneID,
		Reason:      w.reason,
		Expected:    expected,
		Exports:     w.received,
		Parity:      report,
		TimedOut:    timedOut,
		EndedAt:     w.endedAt,
		FinalizedAt: time.Now(),
	}

	var errs error
	if err := s.writer.WriteAudit(sessionID, doc); err != nil {
		errs = multierror.Append(errs, err)
	}
	if report.Failed() {
		if err := s.writer.AppendEvent(map[string]any{
			"type":       "parity_failure",
			"session_id": sessionID,
			"result":     report.Result,
			"missing":    report.Missing,
		}); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		s.logger.Error("audit finalize incomplete",
			slog.String("session_id", string(sessionID)),
			slog.Any("err", errs))
		return
	}

	s.logger.Info("audit finalized",
		slog.String("session_id", string(sessionID)),
		slog.String("result", string(report.Result)),
		slog.Bool("timed_out", timedOut),
		slog.Int("exports", len(w.received)))
}

// RecordExclusion persists one mid-session exclusion synchronously; the
// protocol handler waits for this before acknowledging.
func (s *Sink) RecordExclusion(ev event.ExclusionRecordedEvent) error {
	return s.writer.AppendEvent(map[string]any{
		"type":         "exclusion",
		"session_id":   ev.SessionID,
		"subject_id":   ev.SubjectID,
		"reason":       ev.Reason,
		"raw_reason":   ev.RawReason,
		"frame_number": ev.FrameNumber,
		"timestamp":    ev.Timestamp,
	})
}

// OnSessionStarted appends the match-log line for a session that reached
// PLAYING.
func (s *Sink) OnSessionStarted(ev event.SessionStartedEvent) {
	if err := s.writer.AppendMatchLog(map[string]any{
		"session_id":   ev.SessionID,
		"scene_id":     ev.SceneID,
		"participants": ev.Participants,
		"matchmaker":   ev.Matchmaker,
		"reunion":      ev.Reunion,
		"probe_rtts":   ev.ProbeRTTs,
		"playing_at":   ev.PlayingAt,
	}); err != nil {
		s.logger.Error("match log append failed",
			slog.String("session_id", string(ev.SessionID)),
			slog.Any("err", err))
	}
}

// Pending reports how many collection windows are open.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Close finalizes every open window so in-flight exports are not lost on
// shutdown.
func (s *Sink) Close() {
	s.mu.Lock()
	ids := make([]model.SessionID, 0, len(s.windows))
	for id := range s.windows {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.finalize(id, true)
	}
}
