package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"tokgate/internal"
)

// main is the entry point to the program. Configuration is read from an
// optional .env file, an optional YAML config file, and the environment;
// the gateway then runs until interrupted.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment as-is")
	}

	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	config := internal.TokgateConfig{}
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath); err != nil {
			log.Panicf("Failed to load config: %v\n", err)
		}
	} else if err := config.LoadFromEnv(); err != nil {
		log.Panicf("Failed to load config: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Panicf("Gateway stopped with error: %v\n", err)
	}
}
