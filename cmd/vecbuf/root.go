package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecbuf"
	"github.com/hupe1980/vecbuf/blobstore"
	miniostore "github.com/hupe1980/vecbuf/blobstore/minio"
	s3store "github.com/hupe1980/vecbuf/blobstore/s3"
	"github.com/hupe1980/vecbuf/internal/checkpoint"
	"github.com/hupe1980/vecbuf/internal/config"
)

const rootLongDesc string = `vecbuf buffers vector writes in memory and flushes them into
segments on local disk, S3 or MinIO.

Configuration is read from a YAML file (--config) and VECBUF_* environment
variables.

Commands:
  vecbuf ingest        Insert generated vectors and flush them
  vecbuf inspect       List or decode stored segments
  vecbuf checkpoint    Show per-collection checkpoints`

const rootShortDesc string = "vecbuf - vector write buffering"

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "vecbuf",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(newIngestCmd(flags))
	cmd.AddCommand(newInspectCmd(flags))
	cmd.AddCommand(newCheckpointCmd(flags))

	return cmd
}

// load reads the configuration and builds the logger it describes.
func (f *globalFlags) load(cmd *cobra.Command) (*config.Config, *vecbuf.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	} else {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	}
	return cfg, vecbuf.NewLogger(handler), nil
}

// openStores builds the blob store and checkpoint store selected by cfg.
// A nil checkpoint store means checkpoints live in the blob store.
func openStores(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, checkpoint.Store, error) {
	var store blobstore.BlobStore

	sc := cfg.Storage
	switch sc.Type {
	case "local":
		store = blobstore.NewLocalStore(sc.Dir)
	case "memory":
		store = blobstore.NewMemoryStore()
	case "s3":
		s, err := s3store.New(ctx, sc.Bucket,
			s3store.WithPrefix(sc.Prefix),
			s3store.WithRegion(sc.Region),
			s3store.WithEndpoint(sc.Endpoint),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("s3 store: %w", err)
		}
		store = s
	case "minio":
		s, err := miniostore.New(miniostore.Config{
			Endpoint:  sc.Endpoint,
			AccessKey: sc.AccessKey,
			SecretKey: sc.SecretKey,
			Region:    sc.Region,
			Secure:    sc.Secure,
			Bucket:    sc.Bucket,
			Prefix:    sc.Prefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("minio store: %w", err)
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("minio bucket: %w", err)
		}
		store = s
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}

	if cfg.Checkpoint.Type != "dynamodb" {
		return store, nil, nil
	}

	region := cfg.Checkpoint.Region
	if region == "" {
		region = sc.Region
	}
	awsCfg, err := s3store.LoadConfig(ctx, s3store.Options{Region: region})
	if err != nil {
		return nil, nil, fmt.Errorf("aws config: %w", err)
	}
	return store, checkpoint.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), cfg.Checkpoint.Table), nil
}

// openDB opens a DB configured from cfg.
func openDB(ctx context.Context, cfg *config.Config, logger *vecbuf.Logger) (*vecbuf.DB, error) {
	store, cps, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []vecbuf.Option{
		vecbuf.WithBlobStore(store),
		vecbuf.WithBufferSize(cfg.BufferSizeBytes()),
		vecbuf.WithAdmission(cfg.AdmissionMode()),
		vecbuf.WithCompression(cfg.CompressionType()),
		vecbuf.WithWorkers(cfg.Workers),
		vecbuf.WithIOLimit(cfg.IOLimit()),
		vecbuf.WithEncodeMemoryLimit(cfg.EncodeMemoryLimitBytes()),
		vecbuf.WithLogger(logger),
	}
	if cps != nil {
		opts = append(opts, vecbuf.WithCheckpointStore(cps))
	}
	return vecbuf.Open(ctx, opts...)
}
