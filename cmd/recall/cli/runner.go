package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/felixgeelhaar/recall/internal/chat"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/ui"
	"github.com/google/uuid"
)

// Runner wires an app into a chat loop and records the session.
type Runner struct {
	app      *app
	sessions store.SessionStore
	in       io.ReadCloser
	out      io.Writer
	diag     io.Writer
	perf     bool
}

func NewRunner(a *app, in io.ReadCloser, out, diag io.Writer) *Runner {
	return &Runner{app: a, sessions: a.local, in: in, out: out, diag: diag, perf: perf}
}

func (r *Runner) Run(ctx context.Context) error {
	cfg := r.app.cfg
	log := r.app.obs.Log()

	events := chat.NewEventBus()
	if r.perf {
		events.Subscribe(chat.EventStepTimed, chat.PerfReporter(r.diag))
	}

	now := time.Now().UTC()
	session := &store.Session{
		ID:        uuid.New().String(),
		UserID:    cfg.UserID,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    store.SessionActive,
		Metadata: map[string]string{
			"provider": cfg.LLM.Provider,
			"model":    cfg.LLM.Model,
			"store":    cfg.VectorStore.Provider,
			"embedder": cfg.Embedder.Provider,
		},
	}
	// Session history is bookkeeping; a failure here must not block chatting.
	if err := r.sessions.CreateSession(session); err != nil {
		log.Warn().Err(err).Msg("failed to record session")
	} else {
		events.Subscribe(chat.EventSessionEnd, func(e chat.Event) {
			session.Status = store.SessionEnded
			if err, _ := e.Data["error"].(error); err != nil {
				session.Status = store.SessionFailed
			}
			session.UpdatedAt = time.Now().UTC()
			if err := r.sessions.UpdateSession(session); err != nil {
				log.Warn().Err(err).Msg("failed to update session")
			}
		})
	}

	loop := chat.New(chat.Deps{
		Store:       r.app.service,
		Generator:   chat.NewProviderGenerator(r.app.llm),
		UI:          newUI(r.out),
		Observer:    r.app.obs,
		Events:      events,
		UserID:      cfg.UserID,
		Limit:       cfg.SearchLimit,
		Timeout:     cfg.CallTimeout,
		Warmup:      r.app.service.Warmup,
		WarmupLabel: r.app.embedLabel,
	}, r.in)
	return loop.Run(ctx)
}

// newUI styles output only for an interactive terminal.
func newUI(out io.Writer) ui.UI {
	if f, ok := out.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return ui.Styled{Out: out, Verbose: verbose}
		}
	}
	return ui.Plain{Out: out, Verbose: verbose}
}
