// ABOUTME: Entry point for eagence-chat, a terminal client for the E-Agence conversational assistant
// ABOUTME: Subcommands: chat (interactive session), token, theme, init

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/eagence-chat/internal/backend"
	"github.com/2389/eagence-chat/internal/config"
	"github.com/2389/eagence-chat/internal/identity"
	"github.com/2389/eagence-chat/internal/prefs"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                     _           _
  ___  __ _  __ _  ___ _ __   ___ ___        ___| |__   __ _| |_
 / _ \/ _' |/ _' |/ _ \ '_ \ / __/ _ \_____ / __| '_ \ / _' | __|
|  __/ (_| | (_| |  __/ | | | (_|  __/_____| (__| | | | (_| | |_
 \___|\__,_|\__, |\___|_| |_|\___\___|      \___|_| |_|\__,_|\__|
            |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "chat":
		err = runChat(ctx, args)
	case "token":
		err = runToken(ctx)
	case "theme":
		err = runTheme(ctx, args)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: eagence-chat <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  chat [--message TEXT]     Open a conversation (TEXT is sent once connected)")
	fmt.Println("  token                     Show the identity carried by the session token")
	fmt.Println("  theme [light|dark|toggle] Show or change the color theme")
	fmt.Println("  init                      Create a new config file interactively")
	fmt.Println("  version                   Print the version")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  EAGENCE_CONFIG            Config file path (default: ~/.config/eagence/chat.yaml)")
	fmt.Println()
}

func loadConfig() (*config.Config, string, error) {
	path := config.Path()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newBackend(cfg *config.Config, logger *slog.Logger) *backend.Client {
	return backend.New(backend.Options{
		BaseURL:          cfg.Backend.BaseURL,
		TokenPath:        cfg.Backend.TokenPath,
		SubscriptionPath: cfg.Backend.SubscriptionPath,
		WebhookURL:       cfg.Backend.WebhookURL,
		Timeout:          cfg.Backend.RequestTimeout,
		Logger:           logger,
	})
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	pending := fs.String("message", "", "text to send as soon as the conversation opens")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("Broker:  %s\n", cfg.Broker.URL)
	green.Print("    ▶ ")
	fmt.Printf("Webhook: %s\n\n", cfg.Backend.WebhookURL)

	store, err := prefs.Open(cfg.Prefs.Path)
	if err != nil {
		return fmt.Errorf("opening preferences: %w", err)
	}
	defer store.Close()

	r, err := newREPL(ctx, cfg, newBackend(cfg, logger), store, logger)
	if err != nil {
		return err
	}
	defer r.close()

	if *pending != "" {
		r.session.SetPending(*pending)
	}
	return r.run(ctx)
}

func runToken(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	raw := cfg.Auth.Token
	if raw == "" {
		raw, err = newBackend(cfg, logger).IssueToken(ctx, cfg.Auth.ClientID)
		if err != nil {
			return err
		}
	}
	sess, err := identity.NewDecoder([]byte(cfg.Auth.JWTSecret)).Decode(raw)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	green.Println("Session token")
	fmt.Printf("  User:       %s\n", cyan.Sprint(sess.DisplayName()))
	fmt.Printf("  User ID:    %d\n", sess.UserID)
	fmt.Printf("  Client ID:  %s\n", sess.ClientID)
	fmt.Printf("  Topic:      %s\n", sess.Topic())
	if sess.CertifiedAccount {
		fmt.Printf("  Certified:  yes\n")
	}
	if sess.ExpiresAt != nil {
		fmt.Printf("  Expires:    %s\n", sess.ExpiresAt.Local().Format(time.RFC1123))
	}
	for _, sub := range sess.Subscriptions {
		fmt.Printf("  Abonnement: %s %s\n", sub.Reference, color.HiBlackString(sub.Label))
	}
	return nil
}

func runTheme(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := prefs.Open(cfg.Prefs.Path)
	if err != nil {
		return fmt.Errorf("opening preferences: %w", err)
	}
	defer store.Close()

	current, err := store.Theme(ctx)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Println(current)
		return nil
	}

	next := current.Toggle()
	if args[0] != "toggle" {
		next, err = prefs.ParseTheme(args[0])
		if err != nil {
			return err
		}
	}
	if err := store.SetTheme(ctx, next); err != nil {
		return err
	}
	color.Green("Theme set to %s\n", next)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("eagence-chat configuration setup")
	fmt.Println("================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.Path())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Broker ---")
	brokerURL := prompt(reader, "MQTT broker URL", "wss://broker.example.com:8884/mqtt")
	outboundTopic := prompt(reader, "Outbound topic", config.DefaultOutboundTopic)

	fmt.Println("\n--- Backend ---")
	baseURL := prompt(reader, "Backend base URL", "https://portal.example.com/api")
	webhookURL := prompt(reader, "Inbound webhook URL", baseURL+"/webhook/inbound")
	clientID := prompt(reader, "Client ID", "")

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# eagence-chat configuration\n")
	cfg.WriteString("# Generated by eagence-chat init\n\n")
	cfg.WriteString("broker:\n")
	cfg.WriteString(fmt.Sprintf("  url: %q\n", brokerURL))
	cfg.WriteString(fmt.Sprintf("  outbound_topic: %q\n", outboundTopic))
	cfg.WriteString("  reconnect_interval: \"1s\"\n\n")
	cfg.WriteString("backend:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", baseURL))
	cfg.WriteString(fmt.Sprintf("  webhook_url: %q\n\n", webhookURL))
	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  client_id: %q\n", clientID))
	cfg.WriteString("  jwt_secret: \"${EAGENCE_JWT_SECRET}\"\n\n")
	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.Green("\nConfig written to %s\n", outputFile)
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	// The REPL owns stdout, so logs go to stderr.
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{level: level}
	}
	return slog.New(handler)
}

// colorHandler writes compact colorized log lines to stderr.
type colorHandler struct {
	level slog.Level
	attrs []slog.Attr
}

// stderrMu serializes writes from every handler derived by WithAttrs.
var stderrMu sync.Mutex

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}
	buf.WriteString(r.Message)

	write := func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)
	buf.WriteString("\n")

	stderrMu.Lock()
	defer stderrMu.Unlock()
	_, err := os.Stderr.WriteString(buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	return &colorHandler{
		level: h.level,
		attrs: append(newAttrs, attrs...),
	}
}

// WithGroup is a no-op: the chat client never logs grouped attributes.
func (h *colorHandler) WithGroup(string) slog.Handler {
	return h
}
