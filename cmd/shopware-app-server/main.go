// ABOUTME: Entry point for shopware-app-server
// ABOUTME: Serves configured apps and offers setup, health and operator commands

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/codebarista-de/shopware-app-server/internal/auth"
	"github.com/codebarista-de/shopware-app-server/internal/config"
	"github.com/codebarista-de/shopware-app-server/internal/server"
	"github.com/codebarista-de/shopware-app-server/internal/signature"
)

// Version is set at build time.
var version = "dev"

const banner = `
     _
 ___| |__   ___  _ ____      ____ _ _ __ ___        __ _ _ __  _ __
/ __| '_ \ / _ \| '_ \ \ /\ / / _' | '__/ _ \_____ / _' | '_ \| '_ \
\__ \ | | | (_) | |_) \ V  V / (_| | | |  __/_____| (_| | |_) | |_) |
|___/_| |_|\___/| .__/ \_/\_/ \__,_|_|  \___|      \__,_| .__/| .__/
                |_|                                     |_|   |_|
`

// getDataPath returns the directory for the SQLite database.
// Priority: XDG_DATA_HOME/shopware-app-server > ~/.local/share/shopware-app-server
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "shopware-app-server")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: shopware-app-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the app server")
		fmt.Println("  init [--app KEY]            Create a starter config file")
		fmt.Println("  health                      Check server health")
		fmt.Println("  shops --app KEY             List shops that installed an app")
		fmt.Println("  token --subject NAME        Issue an operator API token")
		os.Exit(1)
	}

	// A missing .env file is fine; values may come from the real environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "shops":
		err = runShops(ctx)
	case "token":
		err = runToken()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	for _, app := range cfg.Apps {
		green.Print("    ▶ ")
		fmt.Printf("App:       ")
		cyan.Print(app.Key)
		gray.Printf(" (%s)\n", app.Name)
	}
	if !cfg.AppServer.IsSSLOnly() {
		yellow.Println("    ! ssl_only is off, shops may be reached over plain http")
	}
	if cfg.Database.EncryptionKey == "" {
		yellow.Println("    ! database.encryption_key is not set, secrets are stored in plain text")
	}
	fmt.Println()

	logger.Info("starting shopware-app-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"apps", len(cfg.Apps),
	)

	srv, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}

	return slog.New(handler)
}

// colorHandler writes colorized single-line records.
type colorHandler struct {
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

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

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")

	stdoutMu.Lock()
	defer stdoutMu.Unlock()
	_, err := io.WriteString(os.Stdout, buf.String())
	return err
}

// stdoutMu serializes writes from every derived handler.
var stdoutMu sync.Mutex

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, server.PathHealth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// parseFlag reads a single "--name value" or "--name=value" flag from args.
func parseFlag(args []string, name string) (string, error) {
	var value string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--"+name:
			if i+1 >= len(args) {
				return "", fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		case strings.HasPrefix(arg, "--"+name+"="):
			value = strings.TrimPrefix(arg, "--"+name+"=")
		case strings.HasPrefix(arg, "-"):
			return "", fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return strings.TrimSpace(value), nil
}

func runShops(ctx context.Context) error {
	appKey, err := parseFlag(os.Args[2:], "app")
	if err != nil {
		return err
	}
	if appKey == "" {
		return fmt.Errorf("--app flag is required")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := server.OpenStore(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	shops, err := st.ListShops(ctx, appKey)
	if err != nil {
		return fmt.Errorf("listing shops: %w", err)
	}
	if len(shops) == 0 {
		fmt.Printf("No shops have installed %s\n", appKey)
		return nil
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)
	for _, shop := range shops {
		switch {
		case shop.IsDeleted():
			gray.Print("  ✗ ")
		case shop.RegistrationConfirmed:
			green.Print("  ✓ ")
		default:
			yellow.Print("  … ")
		}
		fmt.Printf("%-24s %s", shop.ShopID, shop.ShopRequestURL)
		if shop.ShopwareVersion != "" {
			gray.Printf("  shopware %s", shop.ShopwareVersion)
		}
		if shop.AppVersion != "" {
			gray.Printf("  app %s", shop.AppVersion)
		}
		fmt.Println()
	}
	return nil
}

func runToken() error {
	subject, err := parseFlag(os.Args[2:], "subject")
	if err != nil {
		return err
	}
	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured; the operator API is disabled")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	tokenTTL := 30 * 24 * time.Hour
	token, err := verifier.Generate(subject, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	out, _ := json.MarshalIndent(map[string]string{
		"subject":    subject,
		"token":      token,
		"expires_at": time.Now().Add(tokenTTL).UTC().Format(time.RFC3339),
	}, "", "  ")
	fmt.Println(string(out))
	return nil
}

// randomBase64 returns n random bytes, base64 encoded.
func randomBase64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// runInit writes a starter config with fresh secrets. It refuses to
// overwrite an existing file.
func runInit() error {
	appKey, err := parseFlag(os.Args[2:], "app")
	if err != nil {
		return err
	}
	if appKey == "" {
		appKey = "my-app"
	}
	if strings.Contains(appKey, ".") {
		return fmt.Errorf("app key %q must not contain dots", appKey)
	}

	configPath := config.DefaultPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	appSecret, err := signature.GenerateSecret()
	if err != nil {
		return fmt.Errorf("generating app secret: %w", err)
	}
	jwtSecret, err := randomBase64(32)
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	encryptionKey, err := randomBase64(32)
	if err != nil {
		return fmt.Errorf("generating encryption key: %w", err)
	}

	dataPath := getDataPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(`# shopware-app-server configuration
# Generated by shopware-app-server init

server:
  http_addr: "localhost:8080"
  registration_rate_limit: 1

database:
  driver: "sqlite"
  path: "%s"
  encryption_key: "%s"

appserver:
  ssl_only: true
  enforce_re_registration_with_shop_signature: false

auth:
  jwt_secret: "%s"

apps:
  - key: "%s"
    name: "%s"
    secret: "%s"
    version: "1.0.0"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
`, filepath.Join(dataPath, "shops.db"), encryptionKey, jwtSecret, appKey, appKey, appSecret)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Print("  App secret for the manifest <setup><secret>: ")
	cyan.Println(appSecret)
	fmt.Printf("  Registration URL: https://%s.<your-domain>%s\n", appKey, server.PathRegister)
	return nil
}
