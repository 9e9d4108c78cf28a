package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chatcore/internal/config"
	"chatcore/internal/security"
	"chatcore/internal/server"
	"chatcore/internal/server/store/sqlite"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := sqlite.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	users := sqlite.NewUserRepo(db)
	chats := sqlite.NewChatRepo(db)
	messages := sqlite.NewMessageRepo(db)
	refresh := sqlite.NewRefreshTokenRepo(db)

	tokens := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL)
	hasher := security.NewPasswordHasher(bcrypt.DefaultCost)

	authSvc := server.NewAuthService(users, refresh, tokens, hasher, cfg.RefreshTokenTTL)
	chatSvc := server.NewChatService(chats, messages, users, cfg.MaxPageSize)
	hub := server.NewHub()

	router := server.NewRouter(server.Deps{
		Auth:   authSvc,
		Chats:  chatSvc,
		Tokens: tokens,
		Hub:    hub,
		CORS:   cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("chat server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
