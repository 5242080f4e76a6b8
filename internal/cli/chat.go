package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/recall/internal/agent"
	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/history"
)

// chatRunner is the part of agent.Runner the REPL drives.
type chatRunner interface {
	Turn(ctx context.Context, ref domain.SessionRef, text string) (*agent.TurnResult, error)
	Stats(id string) (history.Stats, bool)
	History(id string) []domain.Turn
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// sessionRef resumes sessionID or starts a new session for userID.
func (a *app) sessionRef(ctx context.Context, sessionID, userID string) (domain.SessionRef, error) {
	if sessionID == "" {
		rec, err := a.sessions.Create(ctx, userID)
		if err != nil {
			return domain.SessionRef{}, err
		}
		return rec.SessionRef, nil
	}
	rec, err := a.sessions.GetOrCreate(ctx, sessionID, userID)
	if err != nil {
		return domain.SessionRef{}, err
	}
	return rec.SessionRef, nil
}

func newChatCmd() *cobra.Command {
	var userID, sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ref, err := a.sessionRef(ctx, sessionID, userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (session %s). Type /help for commands.\n", cfg.Agent.Name, ref.ID)
			return chatLoop(ctx, a.runner, ref, cmd.InOrStdin(), out)
		},
	}

	cmd.Flags().StringVar(&userID, "user", defaultUser(), "user id the conversation belongs to")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume a session by id")
	return cmd
}

const chatHelp = `Commands:
  /stats    show the live history size
  /history  print the live history
  /exit     leave the chat`

// chatLoop reads one line per turn until EOF, /exit or cancellation.
// A failed turn is reported and the loop continues.
func chatLoop(ctx context.Context, r chatRunner, ref domain.SessionRef, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
			continue
		case "/stats":
			s, _ := r.Stats(ref.ID)
			fmt.Fprintf(out, "turns=%d pairs=%d chars=%d tokens=%d\n", s.Turns, s.Pairs, s.Chars, s.Tokens)
			continue
		case "/history":
			for _, t := range r.History(ref.ID) {
				fmt.Fprintf(out, "[%s] %s\n", t.Role, t.Content)
			}
			continue
		}

		res, err := r.Turn(ctx, ref, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printTurn(out, res)
	}
}

func printTurn(out io.Writer, res *agent.TurnResult) {
	fmt.Fprintln(out, res.Answer)
	for _, c := range res.Calls {
		status := "ok"
		if !c.OK {
			status = "failed"
		}
		fmt.Fprintf(out, "  [tool %s %s]\n", c.Call.Name, status)
	}
	if res.Evicted > 0 {
		fmt.Fprintf(out, "  [%d turns moved to memory]\n", res.Evicted)
	}
}

func newAskCmd() *cobra.Command {
	var userID, sessionID string

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ref, err := a.sessionRef(ctx, sessionID, userID)
			if err != nil {
				return err
			}

			res, err := a.runner.Turn(ctx, ref, strings.Join(args, " "))
			if err != nil {
				return err
			}
			printTurn(cmd.OutOrStdout(), res)
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[session=%s model=%s tokens=%d+%d calls=%d]\n",
				ref.ID, res.Model, res.Usage.InputTokens, res.Usage.OutputTokens, len(res.Calls))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", defaultUser(), "user id the message belongs to")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue")
	return cmd
}
