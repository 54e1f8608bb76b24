package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vela-systems/gatewire/internal/channels"
	"github.com/vela-systems/gatewire/internal/config"
	"github.com/vela-systems/gatewire/internal/cron"
	"github.com/vela-systems/gatewire/internal/gateway"
	"github.com/vela-systems/gatewire/internal/gateway/methods"
	"github.com/vela-systems/gatewire/internal/httpapi"
	"github.com/vela-systems/gatewire/internal/runrpc"
	"github.com/vela-systems/gatewire/internal/store"
	"github.com/vela-systems/gatewire/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (the default action when run with no subcommand)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	configureLogging(cfg)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := buildNotifier(cfg)

	engine := cron.NewEngine(st, cfg.CronPollInterval(), cfg.CronRunsLimit, cfg.CronEnabled, notifier)
	engine.Start(ctx)

	authMode, err := resolveAuthMode(cfg)
	if err != nil {
		slog.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	state := gateway.NewState(
		st, engine,
		protocol.BaseMethods, protocol.Events,
		cfg.RuntimeVersion, string(cfg.AuthMode), cfg.DBPath,
		cfg.CronRunsLimit, cfg.AuthMaxAttempts, cfg.AuthWindow(),
	)

	state.SetNotifier(notifier)

	router := buildRouter()

	server := httpapi.New(state, router, cfg, authMode)

	slog.Info("gatewire listening", "addr", cfg.BindAddr(), "authMode", cfg.AuthMode)
	httpServer := &http.Server{Addr: cfg.BindAddr(), Handler: server.Mux()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout())
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("gateway server exited", "error", err)
		os.Exit(1)
	}
}

func resolveAuthMode(cfg *config.Config) (gateway.AuthMode, error) {
	switch cfg.AuthMode {
	case config.AuthNone:
		return gateway.AuthMode{Kind: gateway.AuthModeNone}, nil
	case config.AuthToken:
		if cfg.GatewayToken == "" {
			return gateway.AuthMode{}, fmt.Errorf("authMode=token requires gatewayToken")
		}
		return gateway.AuthMode{Kind: gateway.AuthModeToken, Secret: cfg.GatewayToken}, nil
	case config.AuthPassword:
		if cfg.GatewayPass == "" {
			return gateway.AuthMode{}, fmt.Errorf("authMode=password requires gatewayPassword")
		}
		return gateway.AuthMode{Kind: gateway.AuthModePassword, Secret: cfg.GatewayPass}, nil
	default:
		return gateway.AuthMode{}, fmt.Errorf("unknown authMode: %s", cfg.AuthMode)
	}
}

// buildRouter registers every implemented method handler. Methods listed in
// protocol.BaseMethods but not registered here answer ErrUnavailable via
// Router.Dispatch's "recognized but not implemented yet" fallback.
func buildRouter() *gateway.Router {
	router := gateway.NewRouter()

	router.Register("health", methods.HandleHealth)
	router.Register("status", methods.HandleStatus)

	router.Register("config.get", methods.HandleConfigGet)
	router.Register("config.set", methods.HandleConfigSet)
	router.Register("config.apply", methods.HandleConfigApply)
	router.Register("config.patch", methods.HandleConfigPatch)
	router.Register("config.schema", methods.HandleConfigSchema)

	router.Register("sessions.list", methods.HandleSessionsList)
	router.Register("sessions.preview", methods.HandleSessionsPreview)
	router.Register("sessions.patch", methods.HandleSessionsPatch)
	router.Register("sessions.reset", methods.HandleSessionsReset)
	router.Register("sessions.delete", methods.HandleSessionsDelete)
	router.Register("sessions.compact", methods.HandleSessionsCompact)

	router.Register("cron.list", methods.HandleCronList)
	router.Register("cron.status", methods.HandleCronStatus)
	router.Register("cron.add", methods.HandleCronAdd)
	router.Register("cron.update", methods.HandleCronUpdate)
	router.Register("cron.remove", methods.HandleCronRemove)
	router.Register("cron.run", methods.HandleCronRun)
	router.Register("cron.runs", methods.HandleCronRuns)

	router.Register("node.pair.request", methods.HandleNodePairRequest)
	router.Register("node.pair.list", methods.HandleNodePairList)
	router.Register("node.pair.approve", methods.HandleNodePairApprove)
	router.Register("node.pair.reject", methods.HandleNodePairReject)
	router.Register("node.pair.verify", methods.HandleNodePairVerify)
	router.Register("node.rename", methods.HandleNodeRename)
	router.Register("node.list", methods.HandleNodeList)
	router.Register("node.describe", methods.HandleNodeDescribe)
	router.Register("node.invoke", methods.HandleNodeInvoke)
	router.Register("node.invoke.result", methods.HandleNodeInvokeResult)
	router.Register("node.event", methods.HandleNodeEvent)

	router.Register("exec.approval.request", methods.HandleExecApprovalRequest)
	router.Register("exec.approval.waitDecision", methods.HandleExecApprovalWaitDecision)
	router.Register("exec.approval.resolve", methods.HandleExecApprovalResolve)
	router.Register("exec.approvals.get", methods.HandleExecApprovalsGet)
	router.Register("exec.approvals.set", methods.HandleExecApprovalsSet)
	router.Register("exec.approvals.node.get", methods.HandleExecApprovalsNodeGet)
	router.Register("exec.approvals.node.set", methods.HandleExecApprovalsNodeSet)

	router.Register("device.pair.request", methods.HandleDevicePairRequest)
	router.Register("device.pair.list", methods.HandleDevicePairList)
	router.Register("device.pair.approve", methods.HandleDevicePairApprove)
	router.Register("device.pair.reject", methods.HandleDevicePairReject)
	router.Register("device.pair.remove", methods.HandleDevicePairRemove)
	router.Register("device.token.rotate", methods.HandleDeviceTokenRotate)
	router.Register("device.token.revoke", methods.HandleDeviceTokenRevoke)

	router.Register("chat.send", runrpc.HandleSend)
	router.Register("chat.history", runrpc.HandleHistory)
	router.Register("chat.abort", runrpc.HandleAbort)
	router.Register("agent", runrpc.HandleAgent)
	router.Register("agent.wait", runrpc.HandleAgentWait)
	router.Register("agent.identity.get", runrpc.HandleAgentIdentity)

	return router
}

// buildNotifier wires one Notifier per platform with a configured bot
// token; a platform with no token configured is simply absent from the
// dispatcher, and a "notify" cron payload or device-pair approval
// targeting it fails with a clear "no notifier registered" error rather
// than silently dropping the message.
func buildNotifier(cfg *config.Config) *channels.Dispatcher {
	dispatcher := channels.NewDispatcher()

	if cfg.TelegramBotToken != "" {
		tg, err := channels.NewTelegramNotifier(cfg.TelegramBotToken)
		if err != nil {
			slog.Error("telegram notifier init failed", "error", err)
		} else {
			dispatcher.Register("telegram", tg)
		}
	}
	if cfg.SlackBotToken != "" {
		dispatcher.Register("slack", channels.NewSlackNotifier(cfg.SlackBotToken))
	}
	if cfg.DiscordBotToken != "" {
		dc, err := channels.NewDiscordNotifier(cfg.DiscordBotToken)
		if err != nil {
			slog.Error("discord notifier init failed", "error", err)
		} else {
			dispatcher.Register("discord", dc)
		}
	}
	return dispatcher
}

func configureLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.LogFilter {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSONLogs {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
