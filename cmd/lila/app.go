package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/U1000000000000/Lila/internal/api"
	"github.com/U1000000000000/Lila/internal/auth"
	"github.com/U1000000000000/Lila/internal/domain"
	"github.com/U1000000000000/Lila/internal/usecase"
)

// App binds the conversation layer to a terminal. It implements
// ports.SessionEvents, rendering every session event as a line of output,
// and translates typed commands into orchestrator and backend calls.
type App struct {
	orchestrator *usecase.Orchestrator
	backend      *api.Client
	auth         *auth.Store
	out          io.Writer
}

// NewApp creates an unbound terminal binding. The app is passed to
// bootstrap as the event sink first, then bound to the services the
// bootstrap assembled; no events fire before a session is started.
func NewApp(out io.Writer) *App {
	return &App{out: out}
}

// Bind attaches the assembled services.
func (a *App) Bind(orchestrator *usecase.Orchestrator, backend *api.Client, store *auth.Store) {
	a.orchestrator = orchestrator
	a.backend = backend
	a.auth = store
}

// Dispatch runs one typed command line. Unknown commands print usage.
func (a *App) Dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "start":
		return a.startSession(ctx)
	case "stop":
		return a.stopSession()
	case "log":
		a.printConversation()
		return nil
	case "me":
		return a.printProfile(ctx)
	case "dashboard":
		return a.printDashboard(ctx)
	case "history":
		page := 1
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				page = n
			}
		}
		return a.printHistory(ctx, page)
	case "analysis":
		if len(fields) < 2 {
			fmt.Fprintln(a.out, "usage: analysis <session-id>")
			return nil
		}
		return a.printAnalysis(ctx, fields[1])
	case "chat":
		if len(fields) < 2 {
			fmt.Fprintln(a.out, "usage: chat <session-id>")
			return nil
		}
		return a.printChat(ctx, fields[1])
	case "logout":
		a.auth.Clear()
		fmt.Fprintln(a.out, "signed out")
		return nil
	case "help":
		a.printUsage()
		return nil
	default:
		fmt.Fprintf(a.out, "unknown command %q\n", fields[0])
		a.printUsage()
		return nil
	}
}

func (a *App) printUsage() {
	fmt.Fprintln(a.out, `commands:
  start               begin a voice session
  stop                end the voice session
  log                 print the current conversation
  me                  show the signed-in profile
  dashboard           show aggregated progress stats
  history [page]      list past session analyses
  analysis <id>       show the analysis for one session
  chat <id>           show the transcript of a past session
  logout              drop the stored credentials
  quit                exit`)
}

func (a *App) startSession(ctx context.Context) error {
	err := a.orchestrator.Start(ctx)
	if errors.Is(err, usecase.ErrSessionActive) {
		fmt.Fprintln(a.out, "a session is already running")
		return nil
	}
	return err
}

func (a *App) stopSession() error {
	err := a.orchestrator.Stop()
	if errors.Is(err, usecase.ErrNoActiveSession) {
		fmt.Fprintln(a.out, "no session running")
		return nil
	}
	return err
}

func (a *App) printConversation() {
	msgs := a.orchestrator.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(a.out, "conversation is empty")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(a.out, "%3d %-9s %s\n", m.Ordinal, m.Role, m.Text)
	}
}

func (a *App) printProfile(ctx context.Context) error {
	if cached, ok := a.auth.Profile(); ok {
		fmt.Fprintf(a.out, "%s <%s>\n", cached.Name, cached.Email)
		return nil
	}
	user, err := a.backend.Me(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		fmt.Fprintln(a.out, "not signed in")
		return nil
	}
	a.auth.CacheProfile(user)
	fmt.Fprintf(a.out, "%s <%s>\n", user.Name, user.Email)
	return nil
}

func (a *App) printDashboard(ctx context.Context) error {
	stats, err := a.backend.Dashboard(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sessions: %d  practice time: %s  avg fluency: %.1f  level: %s\n",
		stats.TotalSessions,
		(time.Duration(stats.TotalTimeSeconds) * time.Second).String(),
		stats.AverageFluency,
		stats.LatestCEFR,
	)
	if len(stats.FluencyHistory) > 0 {
		fmt.Fprintf(a.out, "fluency trend: %v\n", stats.FluencyHistory)
	}
	for _, g := range stats.RecentGrammarErrors {
		fmt.Fprintf(a.out, "  fix: %q -> %q (%s)\n", g.Original, g.Corrected, g.Explanation)
	}
	return nil
}

func (a *App) printHistory(ctx context.Context, page int) error {
	h, err := a.backend.History(ctx, page, 20)
	if err != nil {
		return err
	}
	if len(h.Items) == 0 {
		fmt.Fprintln(a.out, "no sessions on this page")
		return nil
	}
	for _, item := range h.Items {
		switch item.Status {
		case "done":
			fmt.Fprintf(a.out, "%s  %-30s fluency %d  %s\n",
				item.SessionID, item.SessionTitle, item.FluencyScore, item.CEFRLevel)
		default:
			fmt.Fprintf(a.out, "%s  (%s)\n", item.SessionID, item.Status)
		}
	}
	return nil
}

func (a *App) printAnalysis(ctx context.Context, sessionID string) error {
	an, err := a.backend.SessionAnalysis(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\n%s\n", an.SessionTitle, an.SessionSummary)
	fmt.Fprintf(a.out, "fluency %d  level %s  %d messages over %s\n",
		an.FluencyScore, an.CEFRLevel, an.MessageCount,
		(time.Duration(an.DurationSeconds) * time.Second).String())
	if len(an.Topics) > 0 {
		fmt.Fprintf(a.out, "topics: %s\n", strings.Join(an.Topics, ", "))
	}
	for _, s := range an.Strengths {
		fmt.Fprintf(a.out, "  + %s\n", s)
	}
	for _, s := range an.AreasForImprovement {
		fmt.Fprintf(a.out, "  - %s\n", s)
	}
	for _, g := range an.GrammarErrors {
		fmt.Fprintf(a.out, "  fix: %q -> %q (%s)\n", g.Original, g.Corrected, g.Explanation)
	}
	return nil
}

func (a *App) printChat(ctx context.Context, sessionID string) error {
	conv, err := a.backend.Conversation(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, turn := range conv.Messages {
		fmt.Fprintf(a.out, "%-9s %s\n", turn.Role, turn.Content)
	}
	return nil
}

// --- ports.SessionEvents ---

func (a *App) StatusChanged(status domain.Status) {
	if status.Message == "" {
		return
	}
	fmt.Fprintf(a.out, "[%s] %s\n", status.State, status.Message)
}

func (a *App) PhaseChanged(phase domain.SessionPhase) {
	fmt.Fprintf(a.out, "(%s)\n", phase)
}

func (a *App) MessageAppended(msg domain.ConversationMessage) {
	fmt.Fprintf(a.out, "%s: %s\n", msg.Role, msg.Text)
}

func (a *App) ThinkingChanged(thinking bool) {
	if thinking {
		fmt.Fprintln(a.out, "...")
	}
}

func (a *App) CaptionShown(text string) {
	fmt.Fprintf(a.out, "» %s\n", text)
}

func (a *App) CaptionHidden() {}
