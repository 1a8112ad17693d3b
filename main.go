package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tetatet/internal/api"
	"tetatet/internal/auth"
	"tetatet/internal/commands"
	"tetatet/internal/config"
	"tetatet/internal/directory"
	"tetatet/internal/fanout"
	"tetatet/internal/filestore"
	"tetatet/internal/http"
	"tetatet/internal/presence"
	"tetatet/internal/push"
	"tetatet/internal/router"
	"tetatet/internal/storage"
	"tetatet/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, addUser string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if addUser != "" {
		return commands.AddUser(addUser, cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, bbStorage)
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	dir := directory.New(bbStorage)
	registry := presence.NewRegistry()
	fan := fanout.New(bbStorage, registry, dir)
	notifier := push.New(push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.PushSubscriber,
	}, bbStorage)

	messageRouter := router.New(bbStorage, registry, fan, dir, notifierOrNil(notifier))

	wsServer := ws.NewServer(authService, messageRouter)
	apiHandlers := api.New(authService, dir, files, bbStorage, cfg.BaseURL)

	adminServer := http.NewAdminServer(authService, cfg.AdminAddr, cfg.AdminPassword)
	apiServer := http.NewAPIServer(apiHandlers, wsServer, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return adminServer.Start()
	})

	g.Go(func() error {
		return apiServer.Start()
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

// notifierOrNil avoids handing the router a typed nil interface when
// webpush is not configured.
func notifierOrNil(n *push.Notifier) router.Notifier {
	if n == nil {
		return nil
	}
	return n
}

func main() {
	addUser := flag.String("add-user", "", "Username to create (creates user with random password and prints details)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addUser); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
