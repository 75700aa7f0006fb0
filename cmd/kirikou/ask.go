package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kirikou/kirikou/internal/agent"
	"github.com/kirikou/kirikou/internal/logging"
	"github.com/kirikou/kirikou/internal/models"
	"github.com/kirikou/kirikou/internal/stream"
)

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "chat with Kirikou from the terminal",
		ArgsUsage: "[QUESTION]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
			&cli.BoolFlag{Name: "sources", Aliases: []string{"s"}, Usage: "print the source URLs after each answer"},
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	logger := logging.WithFields("command", "ask")

	deps, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	exec, err := deps.executor()
	if err != nil {
		return err
	}

	session := &askSession{
		exec:    exec,
		out:     os.Stdout,
		colors:  !cmd.Bool("no-color"),
		sources: cmd.Bool("sources"),
	}

	if cmd.Args().Present() {
		return session.ask(ctx, strings.Join(cmd.Args().Slice(), " "))
	}

	fmt.Fprintf(session.out, "Kirikou %s | %s | type /help for commands\n\n", version, exec.ModelName())
	return session.repl(ctx, os.Stdin)
}

// askSession keeps the terminal conversation history between questions
type askSession struct {
	exec    *agent.Executor
	out     io.Writer
	colors  bool
	sources bool
	history []models.Message
}

func (s *askSession) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, stream.Colorize("You: ", stream.ColorBold, s.colors))
		if !scanner.Scan() {
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := s.handleCommand(input); quit {
				return nil
			}
			continue
		}

		if err := s.ask(ctx, input); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(s.out, stream.Colorize("Error: "+err.Error(), stream.ColorRed, s.colors))
		}
	}
}

func (s *askSession) handleCommand(input string) bool {
	switch strings.Fields(input)[0] {
	case "/exit", "/quit":
		return true
	case "/clear":
		s.history = nil
		fmt.Fprintln(s.out, "History cleared")
	case "/history":
		for _, m := range s.history {
			fmt.Fprintf(s.out, "%s: %s\n", m.Role, m.Content)
		}
	case "/sources":
		s.sources = !s.sources
		fmt.Fprintf(s.out, "Sources %s\n", map[bool]string{true: "on", false: "off"}[s.sources])
	default:
		fmt.Fprintln(s.out, "Commands: /clear, /history, /sources, /exit")
	}
	return false
}

func (s *askSession) ask(ctx context.Context, question string) error {
	fmt.Fprintln(s.out)

	if s.sources {
		outcome, err := s.exec.Invoke(ctx, question, s.history)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, outcome.Output)
		urls, err := agent.ExtractSources(outcome)
		if err != nil && !errors.Is(err, agent.ErrNoIntermediateSteps) {
			return err
		}
		for _, u := range urls {
			fmt.Fprintln(s.out, stream.Colorize("  - "+u, stream.ColorCyan, s.colors))
		}
		fmt.Fprintln(s.out)
		s.remember(question, outcome.Output)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	decoder := stream.NewDecoder(s.exec.ModelName(), s.exec.ToolNames())
	display := stream.NewDisplay(s.out, s.colors)
	answer, err := display.Render(ctx, stream.Filter(ctx, decoder, s.exec.StreamLog(ctx, question, s.history)))
	if err != nil {
		return err
	}
	if err := display.Finalize(); err != nil {
		return err
	}
	fmt.Fprintln(s.out)
	s.remember(question, answer)
	return nil
}

func (s *askSession) remember(question, answer string) {
	s.history = append(s.history,
		models.Message{Role: models.RoleUser, Content: question},
		models.Message{Role: models.RoleAssistant, Content: answer},
	)
}
