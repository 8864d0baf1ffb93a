package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/recall/internal/memory"
)

// call runs one external operation under the per-call timeout, publishes
// its timing and logs a failure. The error is returned for the caller to
// degrade on.
func (l *Loop) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if l.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.deps.Timeout)
		defer cancel()
	}

	elapsed, err := l.deps.Observer.Measure(ctx, op, fn)
	l.deps.Events.PublishWithData(EventStepTimed, l.deps.UserID, map[string]any{
		"step":     op,
		"duration": elapsed,
	})
	if err != nil {
		l.deps.Observer.Log().Error().Err(err).Str("op", op).Str("user", l.deps.UserID).Msg(op + " failed")
		l.deps.Events.PublishWithData(EventStepFailed, l.deps.UserID, map[string]any{
			"step":  op,
			"error": err.Error(),
		})
	}
	return err
}

// turn answers one message: search, format, generate, display, persist.
// Each step finishes before the next starts; failures degrade instead of
// ending the session.
func (l *Loop) turn(ctx context.Context, input string) {
	ctx, span := l.deps.Observer.StartSpan(ctx, "turn")
	defer span.End()

	user := l.deps.UserID
	log := l.deps.Observer.Log()

	l.deps.UI.Status("Gathering memories...")
	var found []memory.Item
	err := l.call(ctx, "search", func(ctx context.Context) error {
		var err error
		found, err = l.deps.Store.Search(ctx, input, user, l.deps.Limit)
		return err
	})
	if err != nil {
		found = nil
	}
	log.Info().Str("user", user).Int("results", len(found)).Msg("memories found")

	memoryContext := FormatContext(found)

	l.deps.UI.Status("Generating response...")
	var answer string
	err = l.call(ctx, "generate", func(ctx context.Context) error {
		var err error
		answer, err = l.deps.Generator.Generate(ctx, memoryContext, input)
		return err
	})
	switch {
	case err != nil:
		answer = ApologyError
	case strings.TrimSpace(answer) == "":
		answer = ApologyEmpty
	}
	l.deps.UI.Reply(answer)

	interaction := []memory.Message{
		{Role: memory.RoleUser, Content: input},
		{Role: memory.RoleAssistant, Content: answer},
	}
	var created []memory.Item
	err = l.call(ctx, "add", func(ctx context.Context) error {
		var err error
		created, err = l.deps.Store.Add(ctx, interaction, user)
		return err
	})
	if err != nil {
		return
	}
	log.Info().Str("user", user).Int("created", len(created)).Msg("interaction added to memory")
	if len(created) > 0 {
		log.Info().Str("user", user).Str("memories", Inspect(created)).Msg("raw memories")
		l.deps.Events.PublishWithData(EventMemoriesAdded, user, map[string]any{"count": len(created)})
	}
}

// reset wipes the user's memories after an explicit "y". Only a failure
// reading the confirmation is returned.
func (l *Loop) reset(ctx context.Context) error {
	user := l.deps.UserID
	l.deps.UI.Prompt(fmt.Sprintf("Enter y to confirm memory wipe for user: %s: ", user))
	answer, err := l.readLine(ctx)
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(answer), "y") {
		l.deps.UI.Info("Memory wipe cancelled.")
		return nil
	}

	var msg string
	err = l.call(ctx, "wipe", func(ctx context.Context) error {
		var err error
		msg, err = l.deps.Store.DeleteAll(ctx, user)
		return err
	})
	if err != nil {
		return nil
	}
	l.deps.UI.Info(fmt.Sprintf("Memories wiped for user %s: %s", user, msg))
	l.deps.Events.PublishWithData(EventMemoriesWiped, user, nil)
	return nil
}

func (l *Loop) all(ctx context.Context) []memory.Item {
	var items []memory.Item
	err := l.call(ctx, "list", func(ctx context.Context) error {
		var err error
		items, err = l.deps.Store.GetAll(ctx, l.deps.UserID)
		return err
	})
	if err != nil {
		return []memory.Item{}
	}
	return items
}

func (l *Loop) list(ctx context.Context) {
	items := l.all(ctx)
	l.deps.UI.Info(fmt.Sprintf("Memories listed for user %s:\n\n%s", l.deps.UserID, Overview(items)))
}

func (l *Loop) inspect(ctx context.Context) {
	items := l.all(ctx)
	l.deps.UI.Info(fmt.Sprintf("Memories listed for user %s: %s", l.deps.UserID, Inspect(items)))
}

// warmup never fails the session; a cold embedder only makes the first
// turn slower.
func (l *Loop) warmup(ctx context.Context) {
	if l.deps.Warmup == nil {
		return
	}
	if l.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.deps.Timeout)
		defer cancel()
	}

	label := l.deps.WarmupLabel
	elapsed, err := l.deps.Observer.Measure(ctx, "warmup", l.deps.Warmup)
	if err != nil {
		l.deps.Observer.Log().Warn().Err(err).Str("embedder", label).Msg("[warmup] failed to warm embedder")
		return
	}
	l.deps.Observer.Log().Info().Str("embedder", label).Str("took", elapsed.Round(time.Millisecond).String()).
		Msg(fmt.Sprintf("[warmup] embedder '%s' warmed", label))
}
