package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nats-chat/go-client/internal/chatconfig"
	"nats-chat/go-client/internal/credential"
	"nats-chat/go-client/internal/platform/privacylog"
	"nats-chat/go-client/internal/provision"
	"nats-chat/go-client/internal/session"
	"nats-chat/go-client/internal/transport"
	"nats-chat/go-client/pkg/models"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	server := flag.String("server", "", "NATS server URL override")
	dataDir := flag.String("data-dir", "", "Directory for local credential storage")
	register := flag.String("register", "", "Register as this display name before connecting")
	bootstrapCreds := flag.String("bootstrap-creds", "", "Bootstrap credentials file for registration")
	channel := flag.String("channel", "General", "Channel that plain input lines post to")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("chat-client version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil)))
	slog.SetDefault(logger)

	cfg := chatconfig.LoadFromPath(*configPath)
	if *server != "" {
		cfg.ServerURL = *server
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if cfg.StorageSecret == "" {
		logger.Error("NATSCHAT_STORAGE_SECRET is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	store := credential.NewStore(cfg.DataDir, cfg.StorageSecret)

	if *register != "" {
		if err := runRegister(ctx, cfg, store, *bootstrapCreds, *register, logger); err != nil {
			logger.Error("registration failed", "error", err)
			os.Exit(1)
		}
	}

	if err := runChat(ctx, cfg, store, *channel, logger); err != nil {
		logger.Error("chat-client failed", "error", err)
		os.Exit(1)
	}
}

func runRegister(ctx context.Context, cfg chatconfig.Config, store *credential.Store, credsPath, name string, logger *slog.Logger) error {
	if store.Exists() {
		return fmt.Errorf("a credential is already stored; remove it before re-registering")
	}
	if credsPath == "" {
		return fmt.Errorf("-bootstrap-creds is required with -register")
	}
	bootstrap, err := os.ReadFile(credsPath)
	if err != nil {
		return fmt.Errorf("read bootstrap credentials: %w", err)
	}

	handshake := provision.New(cfg, string(bootstrap), transport.Dial, store, logger)
	identity, err := handshake.Register(ctx, name)
	if err != nil {
		return err
	}
	logger.Info("registered", "username", identity.Name, "public_key", identity.PublicKey)
	return nil
}

func runChat(ctx context.Context, cfg chatconfig.Config, store *credential.Store, channel string, logger *slog.Logger) error {
	stored, err := store.Load()
	if err != nil {
		return fmt.Errorf("load credential (run with -register first?): %w", err)
	}

	sess, err := session.New(cfg, stored.Document, transport.Dial, store, nil, logger)
	if err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}
	if cfg.HasChannel(channel) {
		sess.SelectContext(channel)
	}

	_, events, cancelEvents := sess.Events().Subscribe(0)
	defer cancelEvents()
	go renderEvents(sess, events)

	fmt.Printf("connected as %s; plain lines post to #%s, @name sends a DM, /join switches channels\n",
		sess.Identity().Name, sess.CurrentContext())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			sess.Stop()
			return nil
		case line, ok := <-lines:
			if !ok {
				sess.Stop()
				return nil
			}
			if sess.State() != models.SessionActive {
				return fmt.Errorf("session ended: credential revoked")
			}
			dispatchLine(sess, line)
		}
	}
}

// dispatchLine routes one input line: "@name text" is a DM, "/join name"
// switches channels, "/who" dumps the presence directory, anything else
// posts to the current channel.
func dispatchLine(sess *session.Session, line string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case strings.HasPrefix(line, "/join "):
		name := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
		log := sess.SelectContext(name)
		fmt.Printf("now in #%s (%d messages)\n", name, len(log))
	case line == "/who":
		dir := sess.Directory()
		names := make([]string, 0, len(dir))
		for _, rec := range dir {
			names = append(names, rec.Username)
		}
		sort.Strings(names)
		fmt.Printf("online: %s\n", strings.Join(names, ", "))
	case strings.HasPrefix(line, "@"):
		rest := strings.SplitN(strings.TrimPrefix(line, "@"), " ", 2)
		if len(rest) != 2 || strings.TrimSpace(rest[1]) == "" {
			fmt.Println("usage: @name message")
			return
		}
		if err := sess.Router().SendDirect(rest[0], rest[1]); err != nil {
			fmt.Printf("dm failed: %v\n", err)
		}
	default:
		if err := sess.Router().PostToChannel(sess.CurrentContext(), line); err != nil {
			fmt.Printf("post failed: %v\n", err)
		}
	}
}

func renderEvents(sess *session.Session, events <-chan session.Event) {
	for ev := range events {
		switch ev.Kind {
		case session.EventLogUpdate:
			contextID, _ := ev.Payload.(string)
			log := sess.Router().Log(contextID)
			if len(log) == 0 {
				continue
			}
			msg := log[0]
			fmt.Printf("[%s] %s: %s\n", contextID, msg.Username, msg.Text)
		case session.EventSessionState:
			state, _ := ev.Payload.(string)
			if state == models.SessionRevoked {
				fmt.Println("access revoked by the operator; exiting")
			}
		}
	}
}
