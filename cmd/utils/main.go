package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kds/cmd/utils/internal/commands"
)

const (
	appName    = "kds-utils"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	config, err := apt.LoadConfig("UTILS", os.Args[2:])
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logLevel := config.GetStringOrDef("log.level", "info")
	logger := apt.NewLogger(logLevel)

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "validate-routes":
		if err := commands.ValidateRoutes(os.Stdout, os.Args[2:], config, logger); err != nil {
			log.Fatalf("Routing table is invalid: %v", err)
		}

	case "reset-db":
		if err := commands.ResetDB(ctx, config, logger); err != nil {
			log.Fatalf("Database reset failed: %v", err)
		}
		logger.Info("Database reset completed successfully")

	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - kitchen display utility commands

Usage:
  %s <command> [options]

Commands:
  validate-routes [file]  Parse a routing table and print where each category goes
  reset-db                Drop the kitchen database (USE WITH CAUTION)
  version                 Print version information
  help                    Show this help message

Environment Variables:
  UTILS_DB_MONGO_URL    MongoDB connection URL (default: mongodb://localhost:27017)
  UTILS_DB_MONGO_NAME   Kitchen database name (default: kds_kitchen)
  UTILS_ROUTING_FILE    Routing table used when validate-routes gets no file
  UTILS_LOG_LEVEL       Log level: debug, info, warn, error (default: info)

Examples:
  %s validate-routes services/kitchen/config/routing.yaml
  UTILS_DB_MONGO_URL=mongodb://localhost:27017 %s reset-db

`, appName, appName, appName, appName)
}
