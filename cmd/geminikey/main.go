package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/sqlinline"
)

func main() {
	_ = godotenv.Load()

	var (
		keyFlag   string
		showFlag  bool
		clearFlag bool
	)
	flag.StringVar(&keyFlag, "key", "", "Gemini API key (falls back to GEMINI_API_KEY)")
	flag.BoolVar(&showFlag, "show", false, "Print a masked copy of the stored key and exit")
	flag.BoolVar(&clearFlag, "clear", false, "Remove the stored key and exit")
	flag.Parse()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger(os.Getenv("APP_ENV"), "geminikey")
	runner := infra.NewSQLRunner(pool, logger)
	if _, err := runner.Exec(ctx, sqlinline.QEnsureSchema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure schema: %v\n", err)
		os.Exit(1)
	}
	store := credentials.NewStore(runner)

	if showFlag {
		key, err := store.GeminiAPIKey(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load gemini api key: %v\n", err)
			os.Exit(1)
		}
		if key == "" {
			fmt.Println("no Gemini API key stored")
			return
		}
		fmt.Printf("stored Gemini API key: %s\n", mask(key))
		return
	}

	if clearFlag {
		if err := store.ClearGeminiAPIKey(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to clear gemini api key: %v\n", err)
			os.Exit(1)
		}
		logger.Info().Msg("gemini api key cleared")
		fmt.Println("stored Gemini API key removed")
		return
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "GEMINI API key is required via -key or environment")
		os.Exit(1)
	}

	if err := store.SetGeminiAPIKey(ctx, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist gemini api key: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Str("key", mask(key)).Msg("gemini api key stored")
	fmt.Println("GEMINI API key stored successfully")
}

func mask(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
