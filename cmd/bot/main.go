package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mymmrac/telego"

	"vpn-billing/internal/api"
	"vpn-billing/internal/billing"
	"vpn-billing/internal/bot"
	"vpn-billing/internal/campaign"
	"vpn-billing/internal/cart"
	"vpn-billing/internal/config"
	"vpn-billing/internal/database"
	"vpn-billing/internal/ledger"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/notification"
	"vpn-billing/internal/payment"
	"vpn-billing/internal/remnawave"
	"vpn-billing/internal/repository"
	"vpn-billing/internal/traffic"
	"vpn-billing/internal/worker"
)

func main() {
	cfg := config.LoadConfig()

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Errorw("Service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(cfg, log)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	rdb, err := database.ConnectRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	tgBot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	var email notification.EmailSender
	if cfg.BrevoAPIKey != "" {
		email = notification.NewBrevoSender(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName)
	}
	notifier := notification.NewService(notification.NewTelegoSender(tgBot), email, cfg.AdminChatIDs, log.With("component", "notification"))

	store := repository.New(db)
	accounts := ledger.New(log.With("component", "ledger"))
	mirror := remnawave.NewSyncer(
		remnawave.NewClient(cfg.RemnawaveURL, cfg.RemnawaveKey, cfg.RemnawaveTimeout),
		store, log, cfg.RemnawaveTimeout, cfg.RemnawaveSquadID,
	)

	daily := billing.NewDailyService(store, accounts, mirror, notifier, cfg.Billing, log)
	trafficSvc := traffic.NewService(store, accounts, cfg.Traffic, cart.NewRedisStore(rdb, cfg.Traffic.CartTTL), mirror, notifier, log)
	campaigns := campaign.NewService(store, accounts, mirror, notifier, cfg.Traffic.DefaultDeviceLimit, log)
	payments := payment.NewService(
		store, accounts,
		payment.NewClient(cfg.YookassaShopID, cfg.YookassaKey),
		daily, trafficSvc, notifier, cfg.YookassaReturnURL, log,
	)

	scheduler := worker.NewScheduler(daily, cfg.Billing, log)
	scheduler.StartMonitoring(ctx)
	defer scheduler.StopMonitoring()

	router := api.NewRouter(
		api.NewHandler(daily, trafficSvc, payments, campaigns, log),
		api.RouterConfig{AdminToken: cfg.AdminAPIToken, WebhookAllowIPs: cfg.AllowedYooIp},
	)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Infow("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	tg := bot.NewBot(tgBot, store, campaigns, trafficSvc, payments, cfg.Traffic.TopupPrices, log)
	go func() {
		if err := tg.Start(ctx); err != nil {
			errCh <- fmt.Errorf("telegram bot: %w", err)
		}
	}()

	log.Infow("Service started", "sales_mode", cfg.Traffic.SalesMode, "daily_enabled", cfg.Billing.DailyEnabled)

	select {
	case <-ctx.Done():
		log.Infow("Shutting down")
	case err = <-errCh:
		log.Errorw("Component failed, shutting down", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Errorw("HTTP server shutdown failed", "error", shutdownErr)
	}
	return err
}
