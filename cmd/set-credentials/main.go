package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-proctoring/internal/config"
	"github.com/stemsi/exstem-proctoring/internal/database"
	"github.com/stemsi/exstem-proctoring/internal/logger"
	"github.com/stemsi/exstem-proctoring/internal/proctor"
	"github.com/stemsi/exstem-proctoring/internal/repository"
	"github.com/stemsi/exstem-proctoring/internal/service"
	"golang.org/x/term"
)

func main() {
	var updatedBy int
	flag.IntVar(&updatedBy, "user", 0, "LMS user id recorded as the updater")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, nil)

	if cfg.CredentialSecret == "" {
		fmt.Println("Error: CREDENTIAL_SECRET must be set to store credentials")
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Environment credentials would shadow the stored ones, so they are
	// deliberately not passed here.
	credentialService := service.NewCredentialService(repository.NewSettingRepository(pool), proctor.Credentials{}, cfg.CredentialSecret, log)

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Set Proctoring Credentials ===")

	fmt.Print("Enter App ID: ")
	appID, _ := reader.ReadString('\n')
	appID = strings.TrimSpace(appID)
	if err := proctor.ValidateAppID(appID); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Print("Enter API Key: ")
	rawKey, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading API key")
		os.Exit(1)
	}
	creds := proctor.Credentials{AppID: appID, APIKey: strings.TrimSpace(string(rawKey))}
	if err := creds.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if err := credentialService.Save(ctx, creds, updatedBy); err != nil {
		log.Fatal().Err(err).Msg("Failed to store credentials")
	}

	fmt.Printf("\nSuccess! Credentials for app %s stored.\n", creds.AppID)
	if cfg.ProctorAppID != "" || cfg.ProctorAPIKey != "" {
		fmt.Println("Note: PROCTOR_APP_ID/PROCTOR_API_KEY are set and take precedence over stored credentials.")
	}
}
