// Command stablectl is an operator tool: it feeds the collateral price into
// Redis and publishes instructions to the inbound JetStream stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	rediscache "StableLedger/internal/cache/redis"
	"StableLedger/internal/config"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/instruction"
	"StableLedger/internal/observability"
	"StableLedger/internal/price"

	"github.com/rs/zerolog"
)

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "Usage: stablectl [-config file] <command> [args]")
	fmt.Fprintln(os.Stderr, "  price <value>              - publish the collateral price to Redis")
	fmt.Fprintln(os.Stderr, "  submit <instruction> [file] - publish a JSON instruction (stdin when no file)")
	fs.PrintDefaults()
}

func main() {
	fs := flag.NewFlagSet("stablectl", flag.ExitOnError)
	cfg, err := config.LoadFromFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		usage(fs)
		os.Exit(2)
	}

	logger := observability.NewLoggerWithLevel("stablectl", observability.ParseLogLevel(cfg.LogLevel))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd := fs.Arg(0); cmd {
	case "price":
		if fs.NArg() != 2 {
			usage(fs)
			os.Exit(2)
		}
		err = setPrice(ctx, cfg, fs.Arg(1), logger)
	case "submit":
		if fs.NArg() < 2 || fs.NArg() > 3 {
			usage(fs)
			os.Exit(2)
		}
		err = submit(ctx, cfg, fs.Arg(1), fs.Arg(2), logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage(fs)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg(fs.Arg(0))
	}
}

func setPrice(ctx context.Context, cfg *config.Config, raw string, logger zerolog.Logger) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis address is not configured")
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		return fmt.Errorf("price must be a positive integer, got %q", raw)
	}

	rc, err := rediscache.New(ctx, rediscache.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   1,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return err
	}
	defer rc.Close()

	p := price.RawPrice{Value: value, ObservedAt: time.Now().UnixMicro()}
	if err := rediscache.NewPriceCache(rc, cfg.Redis.PriceAsset).SetPrice(ctx, p); err != nil {
		return err
	}
	logger.Info().Uint64("price", value).Str("asset", cfg.Redis.PriceAsset).Msg("price published")
	return nil
}

func submit(ctx context.Context, cfg *config.Config, typeName, path string, logger zerolog.Logger) error {
	t, err := instruction.ParseType(typeName)
	if err != nil {
		return err
	}

	var data []byte
	if path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read instruction: %w", err)
	}

	// Decode locally so malformed input never reaches the stream.
	ins, err := instruction.Decode(t, data)
	if err != nil {
		return err
	}

	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := ingestion.PublishInstruction(ctx, js, ins); err != nil {
		return err
	}
	logger.Info().
		Str("instruction", t.String()).
		Str("key", ins.IdempotencyKey()).
		Str("partition", ins.Partition()).
		Msg("instruction published")
	return nil
}
