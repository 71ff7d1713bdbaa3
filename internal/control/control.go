// Package control is the message surface between the scrape runner and its
// external collaborators. Commands arrive as typed messages, are handled one
// at a time by a dispatch loop, and answer through per-request reply channels,
// so senders never share handler state.
package control

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/FranksOps/magpie/internal/profile"
	"github.com/FranksOps/magpie/internal/scraper"
	"github.com/FranksOps/magpie/internal/session"
)

// Type identifies a control message.
type Type string

const (
	TypeStartScraping  Type = "START_SCRAPING"
	TypeStopScraping   Type = "STOP_SCRAPING"
	TypeSaveProfiles   Type = "SAVE_PROFILES"
	TypeScrapeComplete Type = "SCRAPE_COMPLETE"
	TypeScrapeFailed   Type = "SCRAPE_FAILED"
)

// ParseType maps a raw type string to its canonical form. Older senders used
// SCRAPE_DONE and SCRAPE_ERRORED; those aliases are still understood.
func ParseType(raw string) (Type, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "START_SCRAPING":
		return TypeStartScraping, true
	case "STOP_SCRAPING":
		return TypeStopScraping, true
	case "SAVE_PROFILES":
		return TypeSaveProfiles, true
	case "SCRAPE_COMPLETE", "SCRAPE_DONE":
		return TypeScrapeComplete, true
	case "SCRAPE_FAILED", "SCRAPE_ERRORED":
		return TypeScrapeFailed, true
	}
	return "", false
}

// Message is one control command with its optional payloads.
type Message struct {
	Type     Type               `json:"type"`
	Profiles []profile.Record   `json:"profiles,omitempty"`
	Report   *scraper.RunReport `json:"report,omitempty"`
}

// Response answers one message. Status is a short machine-readable word;
// senders must tolerate statuses they do not know.
type Response struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
	Saved  int    `json:"saved,omitempty"`
	Total  int    `json:"total,omitempty"`
	Error  string `json:"error,omitempty"`
}

type request struct {
	msg   Message
	reply chan Response
}

// ErrBusClosed is returned by Send when the dispatch loop has exited.
var ErrBusClosed = errors.New("control bus closed")

// Bus owns one runner lifecycle. Duplicate starts and stops are answered
// idempotently rather than rejected, because senders retry on flaky channels.
type Bus struct {
	newRunner func() (*scraper.Runner, error)
	store     profile.Store
	sessions  session.Store
	logger    *slog.Logger

	requests chan request
	finished chan scraper.RunReport

	// loop-owned, never touched outside Run
	running    bool
	lastReport *scraper.RunReport
}

// NewBus creates a bus. newRunner is called once per accepted start so every
// run begins from a fresh machine.
func NewBus(newRunner func() (*scraper.Runner, error), store profile.Store, sessions session.Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		newRunner: newRunner,
		store:     store,
		sessions:  sessions,
		logger:    logger,
		requests:  make(chan request),
		finished:  make(chan scraper.RunReport, 1),
	}
}

// Send submits a message and waits for its response.
func (b *Bus) Send(ctx context.Context, msg Message) (Response, error) {
	req := request{msg: msg, reply: make(chan Response, 1)}

	select {
	case b.requests <- req:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// LastReport returns the most recent terminal report, if any. Only safe to
// call after Run has returned.
func (b *Bus) LastReport() *scraper.RunReport {
	return b.lastReport
}

// Run dispatches messages until ctx is canceled. If a scrape is in flight on
// shutdown it is stopped through the session store and waited out.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case req := <-b.requests:
			req.reply <- b.handle(ctx, req.msg)

		case report := <-b.finished:
			b.running = false
			b.lastReport = &report
			b.logger.Info("run finished",
				"outcome", report.Outcome, "pages", report.PagesVisited, "saved", report.RecordsSaved)

		case <-ctx.Done():
			if b.running {
				session.MarkStopped(b.sessions)
				report := <-b.finished
				b.running = false
				b.lastReport = &report
			}
			return ctx.Err()
		}
	}
}

func (b *Bus) handle(ctx context.Context, msg Message) Response {
	switch msg.Type {
	case TypeStartScraping:
		return b.handleStart(ctx)

	case TypeStopScraping:
		session.MarkStopped(b.sessions)
		status := "idle"
		if b.running {
			status = "stopping"
		}
		return Response{OK: true, Status: status}

	case TypeSaveProfiles:
		stats, err := b.store.UpsertMany(ctx, msg.Profiles)
		if err != nil {
			return Response{Status: "save-failed", Error: err.Error()}
		}
		return Response{OK: true, Status: "saved", Saved: stats.Saved, Total: stats.Total}

	case TypeScrapeComplete, TypeScrapeFailed:
		// Inbound notifications from a collaborator; recorded, never acted on.
		if msg.Report != nil {
			b.lastReport = msg.Report
		}
		return Response{OK: true, Status: "acknowledged"}
	}

	return Response{Status: "unknown-type", Error: "unknown message type: " + string(msg.Type)}
}

func (b *Bus) handleStart(ctx context.Context) Response {
	if b.running {
		return Response{OK: true, Status: "already-running"}
	}

	runner, err := b.newRunner()
	if err != nil {
		return Response{Status: "start-failed", Error: err.Error()}
	}

	// The session reset must be durable before the ack goes out; a stop
	// handled right after the ack then lands on the fresh session rather
	// than being wiped by a late-starting goroutine.
	if err := runner.Begin(); err != nil {
		return Response{Status: "start-failed", Error: err.Error()}
	}

	b.running = true
	go func() {
		report, resumed, err := runner.Resume(ctx)
		if err != nil {
			b.logger.Error("run aborted", "error", err)
			report.Outcome = scraper.OutcomeFailed
			report.Diagnostic = err.Error()
		} else if !resumed {
			// A stop landed between the seed and the first rehydration.
			report.Outcome = scraper.OutcomeStopped
		}
		b.finished <- report
	}()

	return Response{OK: true, Status: "started"}
}
