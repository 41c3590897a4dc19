package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aeolun/linechat/pkg/chat"
	"github.com/aeolun/linechat/pkg/credentials"
	"github.com/aeolun/linechat/pkg/database"
	"github.com/aeolun/linechat/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.linechat/config.toml", "Path to config file")
	port := flag.Int("port", 0, "TCP port (overrides config; also accepted as the first argument)")
	blockTime := flag.Duration("block-time", 0, "Lockout after repeated failed logins (e.g. 60s)")
	lastHour := flag.Duration("last-hour", 0, "Window listed by wholasthr (e.g. 1h)")
	timeout := flag.Duration("timeout", 0, "Idle time before a session is logged out (e.g. 30m)")
	verbose := flag.Bool("v", false, "Log every protocol step")
	flag.Parse()

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config := tomlConfig.ToServerConfig()

	if flag.NArg() > 0 {
		p, err := strconv.Atoi(flag.Arg(0))
		if err != nil || p <= 0 || p > 65535 {
			log.Fatalf("Invalid port %q", flag.Arg(0))
		}
		config.TCPPort = p
	}
	if *port > 0 {
		config.TCPPort = *port
	}

	// Zero or negative durations keep the configured value
	if *blockTime > 0 {
		config.BlockDuration = *blockTime
	}
	if *lastHour > 0 {
		config.RecentWindow = *lastHour
	}
	if *timeout > 0 {
		config.IdleTimeout = *timeout
	}
	if *verbose {
		config.Verbose = true
	}

	store, err := loadCredentials(&tomlConfig)
	if err != nil {
		log.Fatalf("Failed to load credentials: %v", err)
	}

	srv := server.NewServer(store, config)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("linechat server started (block %s, last hour %s, timeout %s)",
		config.BlockDuration, config.RecentWindow, formatTimeout(config.IdleTimeout))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %s, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

// loadCredentials reads the credential database when one is configured and
// the credential file otherwise. Both are read once at startup.
func loadCredentials(cfg *server.TOMLConfig) (chat.CredentialStore, error) {
	dbPath, err := cfg.GetDatabasePath()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		db, err := database.Open(dbPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		store, err := credentials.FromDatabase(db)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dbPath, err)
		}
		log.Printf("Loaded %d users from %s", store.Len(), dbPath)
		return store, nil
	}

	path, err := cfg.GetCredentialsFile()
	if err != nil {
		return nil, err
	}
	store, err := credentials.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d users from %s", store.Len(), path)
	return store, nil
}

func formatTimeout(d time.Duration) string {
	if d <= 0 {
		return "disabled"
	}
	return d.String()
}
