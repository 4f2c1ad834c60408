package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/app"
	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/config"
	"github.com/edufund/supportchat/backend/internal/logging"
)

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exit")
	token := flag.String("token", "", "print a signed dev token for userID:email and exit")
	flag.Parse()

	// a missing .env is fine; the environment may already be set
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env loaded: %v", err)
	}
	cfg := config.MustLoad()

	if *token != "" {
		id, email, ok := strings.Cut(*token, ":")
		if !ok || id == "" || cfg.JWTSecret == "" {
			log.Fatal("-token needs userID:email and AUTH_JWT_SECRET")
		}
		tok, err := auth.NewToken(cfg.JWTSecret, id, email, cfg.JWTTTLMin)
		if err != nil {
			log.Fatalf("signing token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	if *migrate {
		logger := logging.New(cfg.Env, cfg.LogLevel)
		store, err := app.OpenStore(cfg, logger)
		if err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		_ = store.Close()
		logger.Info("migration completed")
		return
	}

	fx.New(
		app.Module(cfg),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	).Run()
}
