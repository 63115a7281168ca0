package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nats-chat/go-client/internal/access"
	"nats-chat/go-client/internal/chatconfig"
	"nats-chat/go-client/internal/platform/privacylog"
	"nats-chat/go-client/internal/platform/ratelimiter"
)

const queueGroup = "kubecon"

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	server := flag.String("s", "nats://localhost:4222", "NATS server URL")
	accFile := flag.String("acc", "", "Account JWT file")
	skFile := flag.String("sk", "", "Account signing key file")
	oskFile := flag.String("osk", "", "Operator signing key file")
	appCreds := flag.String("creds", "", "App credentials file")
	sysCreds := flag.String("syscreds", "", "System account credentials file")
	sid := flag.String("sid", "<undisclosed>", "Server ID, e.g. AWS/West")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (optional)")
	requestRPS := flag.Float64("request-rps", 1, "Provisioning requests allowed per second per name")
	flag.Parse()
	if *showVersion {
		fmt.Printf("chat-access version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil)))
	slog.SetDefault(logger)

	if *accFile == "" || *skFile == "" || *oskFile == "" {
		logger.Error("-acc, -sk and -osk are required")
		os.Exit(1)
	}

	cfg := chatconfig.LoadFromPath(*configPath)

	account, err := access.LoadAccountClaims(*accFile)
	if err != nil {
		fatal(logger, err)
	}
	signingKey, err := access.LoadSigningKey(*skFile)
	if err != nil {
		fatal(logger, err)
	}
	operatorKey, err := access.LoadSigningKey(*oskFile)
	if err != nil {
		fatal(logger, err)
	}

	// The app connection serves provisioning requests under the chat
	// account; the system connection pushes claim updates.
	nc, err := connect(*server, "Chat Access", *appCreds)
	if err != nil {
		fatal(logger, err)
	}
	sc, err := connect(*server, "Chat Access Claims", *sysCreds)
	if err != nil {
		fatal(logger, err)
	}
	logger.Info("connected", "server", *server)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	limiter := ratelimiter.New(*requestRPS, 3, 10*time.Minute)
	svc := access.NewService(cfg, account, signingKey, operatorKey, *sid, &sysRequester{nc: sc}, limiter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	subs := []struct {
		subject string
		queue   bool
		handler nats.MsgHandler
	}{
		{chatconfig.AccessRequestSubject, true, func(m *nats.Msg) {
			reply := svc.HandleAccessRequest(m.Data)
			respond(logger, m, reply)
			publishRegistry(logger, sc, svc)
		}},
		{chatconfig.RevokeSubject, true, func(m *nats.Msg) {
			reply := svc.HandleRevokeRequest(ctx, m.Data)
			respond(logger, m, reply)
			publishRegistry(logger, sc, svc)
		}},
		{chatconfig.ProvisionedSubject, true, func(m *nats.Msg) {
			respond(logger, m, svc.HandleRegistryRequest())
		}},
		{cfg.OnlineSubject(), false, func(m *nats.Msg) {
			if svc.NoteOnline(m.Data) {
				publishRegistry(logger, nc, svc)
			}
		}},
	}
	for _, s := range subs {
		if s.queue {
			_, err = nc.QueueSubscribe(s.subject, queueGroup, s.handler)
		} else {
			_, err = nc.Subscribe(s.subject, s.handler)
		}
		if err != nil {
			fatal(logger, fmt.Errorf("subscribe %s: %w", s.subject, err))
		}
	}

	<-ctx.Done()
	// Drain instead of closing so in-flight requests finish when scaling
	// down.
	logger.Info("draining")
	if err := nc.Drain(); err != nil {
		logger.Warn("drain failed", "error", err)
	}
	sc.Close()
}

func fatal(logger *slog.Logger, err error) {
	logger.Error("fatal", "error", err)
	os.Exit(1)
}

type sysRequester struct {
	nc *nats.Conn
}

func (r *sysRequester) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := r.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func connect(server, name, credsFile string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(5 * time.Second),
		nats.MaxReconnects(120),
	}
	if credsFile != "" {
		opts = append(opts, nats.UserCredentials(credsFile))
	}
	return nats.Connect(server, opts...)
}

func respond(logger *slog.Logger, m *nats.Msg, reply []byte) {
	if err := m.Respond(reply); err != nil {
		logger.Warn("respond failed", "subject", m.Subject, "error", err)
	}
}

func publishRegistry(logger *slog.Logger, nc *nats.Conn, svc *access.Service) {
	data, err := svc.RegistryJSON()
	if err != nil {
		logger.Warn("registry marshal failed", "error", err)
		return
	}
	if err := nc.Publish(chatconfig.ProvisionedUpdatesSubject, data); err != nil {
		logger.Warn("registry publish failed", "error", err)
	}
}
