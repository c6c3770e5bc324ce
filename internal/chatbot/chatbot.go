package chatbot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/metric"

	"NutriChat/internal/backend"
	"NutriChat/internal/config"
	"NutriChat/internal/session"
	"NutriChat/internal/telemetry"
)

// QuickPrompts are canned questions offered by /prompts and /quick
var QuickPrompts = []string{
	"High protein snacks?",
	"Daily water intake?",
	"Low carb diet tips",
	"Vitamins for energy",
}

// ChatBot represents the main application
type ChatBot struct {
	config   config.Config
	logger   *slog.Logger
	meter    metric.Meter
	gateway  session.Answerer
	ledger   *telemetry.Ledger
	recorder session.Recorder
	session  *session.Controller

	in  io.Reader
	out io.Writer

	closers []func()
}

// deps are the collaborators NewChatBot wires from config
type deps struct {
	logger  *slog.Logger
	meter   metric.Meter
	gateway session.Answerer
	ledger  *telemetry.Ledger
	in      io.Reader
	out     io.Writer
}

// NewChatBot creates a new ChatBot instance reading stdin and writing stdout
func NewChatBot(cfg config.Config) (*ChatBot, error) {
	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Options{
		LogDir:          cfg.LogDir,
		MetricsInterval: cfg.MetricsInterval,
		Disabled:        !cfg.Telemetry,
	})
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	gateway, err := backend.NewHTTPGateway(cfg.GatewayURL, cfg.Timeout, logger, tracer, meter)
	if err != nil {
		shutdown()
		closeLog()
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	var ledger *telemetry.Ledger
	if cfg.LedgerPath != "" {
		ledger, err = telemetry.OpenLedger(cfg.LedgerPath)
		if err != nil {
			logger.Warn("failed to open exchange ledger, continuing without it", "path", cfg.LedgerPath, "error", err)
		}
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	cb := newChatBot(cfg, deps{
		logger:  logger,
		meter:   meter,
		gateway: gateway,
		ledger:  ledger,
		in:      os.Stdin,
		out:     os.Stdout,
	})
	// Closers run in reverse, so the log file is closed last.
	cb.closers = append([]func(){func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}, shutdown}, cb.closers...)
	return cb, nil
}

func newChatBot(cfg config.Config, d deps) *ChatBot {
	cb := &ChatBot{
		config:  cfg,
		logger:  d.logger,
		meter:   d.meter,
		gateway: d.gateway,
		ledger:  d.ledger,
		in:      d.in,
		out:     d.out,
	}
	if d.ledger != nil {
		cb.recorder = d.ledger
		cb.closers = append(cb.closers, func() {
			if err := d.ledger.Close(); err != nil {
				cb.logger.Error("failed to close exchange ledger", "error", err)
			}
		})
	}
	cb.session = cb.newSession()
	return cb
}

// newSession creates a new session
func (cb *ChatBot) newSession() *session.Controller {
	opts := []session.Option{
		session.WithGreeting(cb.config.Greeting),
		session.WithFallback(cb.config.Fallback),
		session.WithLogger(cb.logger),
	}
	if cb.meter != nil {
		opts = append(opts, session.WithMeter(cb.meter))
	}
	if cb.recorder != nil {
		opts = append(opts, session.WithRecorder(cb.recorder))
	}
	return session.New(cb.gateway, opts...)
}

// Session returns the active session controller.
func (cb *ChatBot) Session() *session.Controller {
	return cb.session
}

// Run starts the chat loop. It returns when input ends, on /quit, or when
// ctx is done, always after the outstanding answer (if any) has arrived.
func (cb *ChatBot) Run(ctx context.Context) error {
	defer cb.close()

	fmt.Fprintln(cb.out, "=== NutriAI Chat ===")
	fmt.Fprintf(cb.out, "Gateway: %s\n", cb.config.GatewayURL)
	fmt.Fprintf(cb.out, "Session: %s\n", cb.session.ID())
	fmt.Fprintln(cb.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(cb.out)

	done := make(chan struct{})
	defer close(done)
	lines := readLines(cb.in, done)

	r := newRenderer(cb.out)
	current := cb.session
	sub := current.Subscribe()

loop:
	for {
		select {
		case <-ctx.Done():
			cb.logger.Info("chat loop interrupted", "error", ctx.Err())
			break loop

		case snap, ok := <-sub.C():
			if ok {
				r.Render(snap)
			}

		case line, ok := <-lines:
			if !ok {
				break loop
			}

			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}

			if strings.HasPrefix(input, "/") {
				shouldQuit, err := cb.handleCommand(ctx, input, r)
				if err != nil {
					fmt.Fprintf(cb.out, "Error: %v\n", err)
					cb.logger.Error("command error", "error", err)
				}
				if cb.session != current {
					sub.Close()
					current = cb.session
					sub = current.Subscribe()
				}
				if shouldQuit {
					break loop
				}
				continue
			}

			cb.ask(ctx, input)
		}
	}

	sub.Close()
	current.Wait()
	r.Render(current.Snapshot())

	fmt.Fprintln(cb.out, "Goodbye!")
	return nil
}

func (cb *ChatBot) ask(ctx context.Context, question string) {
	if !cb.session.Submit(ctx, question) {
		fmt.Fprintln(cb.out, "NutriAI is still answering your previous question, please wait.")
	}
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string, r *renderer) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new-session":
		if cb.session.Snapshot().Pending {
			return false, fmt.Errorf("wait for the current answer before starting a new session")
		}
		cb.session = cb.newSession()
		fmt.Fprintln(cb.out, "Started new session:", cb.session.ID())
		return false, nil

	case "/prompts":
		fmt.Fprintln(cb.out, "\nQuick prompts:")
		for i, p := range QuickPrompts {
			fmt.Fprintf(cb.out, "%d. %s\n", i+1, p)
		}
		fmt.Fprintln(cb.out)
		return false, nil

	case "/quick":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /quick <n> (1-%d)", len(QuickPrompts))
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 1 || n > len(QuickPrompts) {
			return false, fmt.Errorf("unknown quick prompt %q, choose 1-%d", parts[1], len(QuickPrompts))
		}
		cb.ask(ctx, QuickPrompts[n-1])
		return false, nil

	case "/history":
		r.RenderAll(cb.session.Snapshot())
		return false, nil

	case "/stats":
		if cb.ledger == nil {
			fmt.Fprintln(cb.out, "Exchange ledger is disabled. Use -ledger <file> to enable it.")
			return false, nil
		}
		answered, fallbacks, err := cb.ledger.Stats(ctx, cb.session.ID())
		if err != nil {
			return false, fmt.Errorf("failed to load stats: %w", err)
		}
		fmt.Fprintf(cb.out, "Session %s: %d answered, %d unreachable\n", cb.session.ID(), answered, fallbacks)

		rows, err := cb.ledger.Exchanges(ctx, cb.session.ID())
		if err != nil {
			return false, fmt.Errorf("failed to load exchanges: %w", err)
		}
		if len(rows) > 0 {
			last := rows[len(rows)-1]
			fmt.Fprintf(cb.out, "Last exchange: %s in %dms", last.Outcome, last.DurationMS)
			if last.Error != "" {
				fmt.Fprintf(cb.out, " (%s)", last.Error)
			}
			fmt.Fprintln(cb.out)
		}
		return false, nil

	case "/help":
		fmt.Fprintln(cb.out, "Available commands:")
		fmt.Fprintln(cb.out, "  /quit, /exit   - Exit the chat")
		fmt.Fprintln(cb.out, "  /new-session   - Start a new chat session")
		fmt.Fprintln(cb.out, "  /prompts       - List quick prompts")
		fmt.Fprintln(cb.out, "  /quick <n>     - Ask quick prompt n")
		fmt.Fprintln(cb.out, "  /history       - Show the whole conversation")
		fmt.Fprintln(cb.out, "  /stats         - Show answered and failed questions of this session")
		fmt.Fprintln(cb.out, "  /help          - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

func (cb *ChatBot) close() {
	for i := len(cb.closers) - 1; i >= 0; i-- {
		cb.closers[i]()
	}
	cb.closers = nil
}

// readLines forwards lines from in until EOF or until done is closed.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}
