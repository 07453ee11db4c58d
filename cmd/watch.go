package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dzianisv/opencode-plugins-sub001/internal/daemon"
	"github.com/dzianisv/opencode-plugins-sub001/internal/github"
	"github.com/dzianisv/opencode-plugins-sub001/internal/llm"
	"github.com/dzianisv/opencode-plugins-sub001/internal/notify"
	"github.com/dzianisv/opencode-plugins-sub001/internal/opencode"
	"github.com/dzianisv/opencode-plugins-sub001/internal/output"
	"github.com/dzianisv/opencode-plugins-sub001/internal/reflection"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the agent host and run reflection on idle sessions",
	Long: `Connect to the OpenCode server's event stream and run the plugins:

- reflection: when a session goes idle, ask the agent to assess its own
  work, judge the answer, and push a continuation or confirm completion
- notifications: Telegram/terminal/speech alerts when the agent is blocked
  on you
- forwarding: post a summary comment to the linked GitHub issue once a
  session is confirmed complete

Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRun()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func watchRun() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// Refuse to double-watch the same host.
	pidPath := filepath.Join(viper.GetString("state_dir"), "ocp.pid")
	pf := daemon.NewPIDFile(pidPath)
	if err := os.MkdirAll(filepath.Dir(pidPath), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Remove() }()

	baseURL := viper.GetString("opencode.base_url")
	client := opencode.NewHTTPClient(baseURL)
	cfg := reflection.DefaultConfig()

	judge, err := buildJudge(client, cfg, logger)
	if err != nil {
		return err
	}

	coordinator := reflection.NewCoordinator(client, judge, buildNotifiers(ui), cfg, logger)

	if viper.GetBool("history.enabled") {
		s, err := getStore()
		if err != nil {
			return err
		}
		coordinator.SetHistory(s)
	}

	if viper.GetBool("github.forward") {
		forwarder := github.NewForwarder(github.NewCLIClient(), client,
			viper.GetString("github.default_repo"), logger)
		coordinator.SetCompletionHandler(forwarder)
	}

	ui.Info("Watching %s (judge: %s)", output.Cyan(baseURL), viper.GetString("judge.backend"))

	events := client.Events(ctx, logger)
	for ev := range events {
		switch ev.Type {
		case opencode.EventSessionIdle:
			// Each idle event gets its own goroutine; the coordinator
			// enforces one cycle per session.
			go coordinator.OnIdle(ctx, ev.SessionID)
		case opencode.EventSessionAborted:
			coordinator.OnAbort(ev.SessionID)
		}
	}

	ui.Info("Watcher stopped.")
	return nil
}

// buildJudge selects the verdict backend from config.
func buildJudge(client opencode.Client, cfg reflection.Config, logger *slog.Logger) (reflection.Judge, error) {
	switch backend := viper.GetString("judge.backend"); backend {
	case "session", "":
		return reflection.NewSessionJudge(client, cfg, logger), nil
	case "anthropic":
		apiKey := viper.GetString("anthropic.api_key")
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return llm.NewJudge(apiKey, viper.GetString("anthropic.model")), nil
	default:
		return nil, fmt.Errorf("unknown judge.backend %q (want session or anthropic)", backend)
	}
}

// buildNotifiers assembles the notifier chain from config. The terminal
// notifier is always present.
func buildNotifiers(ui *output.UI) notify.Notifier {
	chain := notify.Multi{notify.NewTerminal(ui)}

	if token := viper.GetString("telegram.bot_token"); token != "" {
		if chatID := viper.GetInt64("telegram.chat_id"); chatID != 0 {
			chain = append(chain, notify.NewTelegram(token, chatID))
		}
	}
	if speech := notify.NewSpeech(viper.GetString("speech.command")); speech != nil {
		chain = append(chain, speech)
	}

	return chain
}
