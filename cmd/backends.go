// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/catalog"
	"github.com/LeeDigitalWorks/zapupload/pkg/debug"
	"github.com/LeeDigitalWorks/zapupload/pkg/events"
	"github.com/LeeDigitalWorks/zapupload/pkg/folder"
	"github.com/LeeDigitalWorks/zapupload/pkg/job"
	"github.com/LeeDigitalWorks/zapupload/pkg/jobstore"
	"github.com/LeeDigitalWorks/zapupload/pkg/lock"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapupload/pkg/s3client"
	"github.com/LeeDigitalWorks/zapupload/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapupload/pkg/upload"
	"github.com/LeeDigitalWorks/zapupload/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const queueDriverMemory = "memory"

// BackendOpts are the settings shared by the server and worker commands.
type BackendOpts struct {
	LogLevel string

	Upload upload.Config

	Redis        jobstore.RedisConfig
	JobTTL       time.Duration
	LockTTL      time.Duration
	Folder       folder.Config
	S3           objectstore.S3Config
	S3Timeout    time.Duration
	S3MaxIdle    int
	Catalog      catalog.Config
	Events       events.Config
	QueueDriver  string
	QueueDSN     string
	QueueTable   string
	QueueTimeout time.Duration

	Vault        utils.VaultConfig
	VaultEnabled bool
}

// addBackendFlags defines the flags every upload command shares.
func addBackendFlags(f *pflag.FlagSet) {
	def := upload.DefaultConfig()
	f.String("log_level", "info", "Log level (debug, info, warn, error, fatal)")

	f.String("namespace", def.Namespace, "Zone this instance serves (greenroom or core)")
	f.String("green_zone_label", def.GreenZoneLabel, "Display label of the greenroom zone")
	f.String("core_zone_label", def.CoreZoneLabel, "Display label of the core zone")
	f.String("scratch_dir", def.ScratchDir, "Directory for archive downloads")
	f.String("min_free_space", "", "Free space to keep on scratch_dir, percent (5) or size (2GiB)")
	f.Duration("step_timeout", def.StepTimeout, "Timeout for combine and archive download")
	f.Int("reconcile_retries", def.ReconcileRetries, "Part listing retries while parts are missing")
	f.Duration("reconcile_backoff", def.ReconcileBackoff, "Base backoff between part listing retries")

	rdef := jobstore.DefaultRedisConfig()
	f.String("redis_addr", rdef.Addr, "Redis address for jobs, locks and folder nodes")
	f.String("redis_password", "", "Redis password")
	f.Int("redis_db", 0, "Redis database number")
	f.Int("redis_pool_size", rdef.PoolSize, "Redis connection pool size")
	f.String("redis_key_prefix", "", "Prefix for every Redis key")
	f.Duration("job_ttl", job.DefaultTTL, "Lifetime of job records")
	f.Duration("lock_ttl", lock.DefaultTTL, "Lifetime of path locks")
	f.Duration("folder_staged_ttl", folder.DefaultConfig().StagedTTL, "Lifetime of uncommitted folder nodes")
	f.Duration("folder_committed_ttl", 0, "Lifetime of committed folder nodes (0 keeps them)")

	f.String("s3_endpoint", "localhost:9000", "Object store endpoint (host:port)")
	f.Bool("s3_secure", false, "Use TLS for the object store")
	f.String("s3_public_endpoint", "", "Endpoint presigned URLs point at (defaults to s3_endpoint)")
	f.Bool("s3_public_secure", false, "Use TLS for the public endpoint")
	f.String("s3_region", "us-east-1", "Object store region")
	f.String("s3_access_key", "", "Object store access key")
	f.String("s3_secret_key", "", "Object store secret key")
	f.Bool("s3_path_style", true, "Use path-style addressing")
	f.String("s3_checksum", "", "Per-part checksum (SHA256, CRC64NVME or none)")
	f.Duration("s3_presign_expiry", time.Hour, "Lifetime of presigned part URLs")
	f.String("s3_location_scheme", "minio", "Scheme of catalog storage locations")
	f.Duration("s3_timeout", 0, "Object store HTTP timeout (0 for none)")
	f.Int("s3_max_idle_conns", 100, "Idle connections kept to the object store")

	cdef := catalog.DefaultConfig()
	f.String("metadata_url", "http://localhost:5065/v1/", "Metadata service API root")
	f.String("dataops_url", "http://localhost:5063/v1/", "Dataops service API root")
	f.String("project_url", "http://localhost:5064/", "Project service root")
	f.Duration("catalog_timeout", cdef.Timeout, "Timeout for catalog calls")
	f.Duration("catalog_preview_timeout", cdef.PreviewTimeout, "Timeout for archive preview uploads")
	f.Float64("catalog_rate_limit", 0, "Outgoing catalog requests per second (0 for no limit)")
	f.Int("catalog_burst", cdef.Burst, "Burst for the catalog rate limit")
	f.Duration("project_cache_ttl", cdef.ProjectCacheTTL, "Lifetime of cached project lookups")

	edef := events.DefaultConfig()
	f.Bool("kafka_enabled", false, "Publish activity events to Kafka")
	f.StringSlice("kafka_brokers", nil, "Kafka broker addresses")
	f.String("kafka_topic", edef.Kafka.Topic, "Kafka topic for activity events")
	f.String("kafka_compression", edef.Kafka.Compression, "Kafka compression (none, gzip, snappy, lz4, zstd)")
	f.Bool("kafka_tls", false, "Use TLS for Kafka")
	f.Bool("kafka_sasl_enabled", false, "Enable SASL for Kafka")
	f.String("kafka_sasl_mechanism", "PLAIN", "SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512)")
	f.String("kafka_sasl_username", "", "SASL username")
	f.String("kafka_sasl_password", "", "SASL password")

	f.String("queue_driver", queueDriverMemory, "Finalize task queue (memory, postgres, mysql)")
	f.String("queue_dsn", "", "Database connection string for the task queue")
	f.String("queue_table", "upload_tasks", "Task queue table name")
	f.Duration("queue_visibility_timeout", 15*time.Minute, "How long a claimed task stays invisible to other workers")

	f.Bool("config_center_enabled", false, "Overlay settings from Vault")
	f.String("vault_addr", "", "Vault address (defaults to VAULT_ADDR)")
	f.String("vault_token", "", "Vault token (defaults to VAULT_TOKEN)")
	f.String("vault_namespace", "", "Vault namespace")
	f.String("vault_secret_path", "secret/data/upload", "Vault KV path holding overrides")
}

func loadBackendOpts(cmd *cobra.Command) BackendOpts {
	f := NewFlagLoader(cmd)

	return BackendOpts{
		LogLevel: f.String("log_level"),
		Upload: upload.Config{
			Namespace:        f.String("namespace"),
			GreenZoneLabel:   f.String("green_zone_label"),
			CoreZoneLabel:    f.String("core_zone_label"),
			ScratchDir:       f.String("scratch_dir"),
			MinFreeSpace:     f.String("min_free_space"),
			StepTimeout:      f.Duration("step_timeout"),
			ReconcileRetries: f.Int("reconcile_retries"),
			ReconcileBackoff: f.Duration("reconcile_backoff"),
		},
		Redis: jobstore.RedisConfig{
			Addr:      f.String("redis_addr"),
			Password:  f.String("redis_password"),
			DB:        f.Int("redis_db"),
			PoolSize:  f.Int("redis_pool_size"),
			KeyPrefix: f.String("redis_key_prefix"),
			ScanCount: jobstore.DefaultRedisConfig().ScanCount,
		},
		JobTTL:  f.Duration("job_ttl"),
		LockTTL: f.Duration("lock_ttl"),
		Folder: folder.Config{
			StagedTTL:    f.Duration("folder_staged_ttl"),
			CommittedTTL: f.Duration("folder_committed_ttl"),
			KeyPrefix:    folder.DefaultConfig().KeyPrefix,
		},
		S3: objectstore.S3Config{
			Internal: s3client.Config{
				Endpoint:        f.String("s3_endpoint"),
				Secure:          f.Bool("s3_secure"),
				Region:          f.String("s3_region"),
				AccessKeyID:     f.String("s3_access_key"),
				SecretAccessKey: f.String("s3_secret_key"),
				PathStyle:       f.Bool("s3_path_style"),
			},
			Public: s3client.Config{
				Endpoint:        f.String("s3_public_endpoint"),
				Secure:          f.Bool("s3_public_secure"),
				Region:          f.String("s3_region"),
				AccessKeyID:     f.String("s3_access_key"),
				SecretAccessKey: f.String("s3_secret_key"),
				PathStyle:       f.Bool("s3_path_style"),
			},
			PresignExpiry:  f.Duration("s3_presign_expiry"),
			LocationScheme: f.String("s3_location_scheme"),
		},
		S3Timeout: f.Duration("s3_timeout"),
		S3MaxIdle: f.Int("s3_max_idle_conns"),
		Catalog: catalog.Config{
			MetadataURL:     f.String("metadata_url"),
			DataopsURL:      f.String("dataops_url"),
			ProjectURL:      f.String("project_url"),
			Timeout:         f.Duration("catalog_timeout"),
			PreviewTimeout:  f.Duration("catalog_preview_timeout"),
			RateLimit:       f.Float64("catalog_rate_limit"),
			Burst:           f.Int("catalog_burst"),
			ProjectCacheTTL: f.Duration("project_cache_ttl"),
		},
		Events: events.Config{
			Enabled: f.Bool("kafka_enabled"),
			Kafka: events.KafkaConfig{
				Brokers:       f.StringSlice("kafka_brokers"),
				Topic:         f.String("kafka_topic"),
				Compression:   f.String("kafka_compression"),
				TLS:           f.Bool("kafka_tls"),
				SASLEnabled:   f.Bool("kafka_sasl_enabled"),
				SASLMechanism: f.String("kafka_sasl_mechanism"),
				SASLUsername:  f.String("kafka_sasl_username"),
				SASLPassword:  f.String("kafka_sasl_password"),
			},
		},
		QueueDriver:  f.String("queue_driver"),
		QueueDSN:     f.String("queue_dsn"),
		QueueTable:   f.String("queue_table"),
		QueueTimeout: f.Duration("queue_visibility_timeout"),
		VaultEnabled: f.Bool("config_center_enabled"),
		Vault: utils.VaultConfig{
			Address:    f.String("vault_addr"),
			Token:      f.String("vault_token"),
			Namespace:  f.String("vault_namespace"),
			SecretPath: f.String("vault_secret_path"),
		},
	}
}

// loadConfig reads the config file for name, overlays Vault secrets when
// enabled and returns the resolved options.
func loadConfig(cmd *cobra.Command, name string) BackendOpts {
	utils.LoadConfiguration(name, false)

	if NewFlagLoader(cmd).Bool("config_center_enabled") {
		vaultCfg := loadBackendOpts(cmd).Vault
		if _, err := utils.LoadVaultSecrets(cmd.Context(), vaultCfg); err != nil {
			logger.Fatal().Err(err).Msg("failed to load configuration from vault")
		}
	}

	opts := loadBackendOpts(cmd)
	algo, err := utils.ParseChecksumAlgorithm(NewFlagLoader(cmd).String("s3_checksum"))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid s3_checksum")
	}
	opts.S3.Checksum = algo

	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Str("log_level", opts.LogLevel).Msg("invalid log level")
	}
	logger.SetLevel(level)
	return opts
}

// Backends holds the shared collaborators of the upload pipeline.
type Backends struct {
	Store     *jobstore.RedisStore
	S3Pool    *s3client.Pool
	Objects   objectstore.Store
	Catalog   *catalog.Client
	Projects  *catalog.ProjectClient
	Publisher events.Publisher
	Queue     taskqueue.Queue
	Deps      upload.Deps
}

// openBackends connects every backend and registers its health check.
func openBackends(ctx context.Context, opts BackendOpts) (*Backends, error) {
	b := &Backends{}

	store, err := jobstore.NewRedisStore(ctx, opts.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	b.Store = store
	debug.RegisterCheck("redis", store.Ping)

	b.S3Pool = s3client.NewPool(opts.S3Timeout, opts.S3MaxIdle)
	objects, err := objectstore.NewS3Store(ctx, b.S3Pool, opts.S3)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}
	b.Objects = objects
	debug.RegisterCheck("objectstore", objects.Ping)

	b.Catalog = catalog.NewClient(opts.Catalog, nil)
	b.Projects = catalog.NewProjectClient(opts.Catalog, nil)

	publisher, err := events.NewPublisher(opts.Events)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("event publisher: %w", err)
	}
	b.Publisher = publisher
	debug.RegisterCheck("events", publisher.Ping)

	queue, err := openQueue(ctx, opts)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("task queue: %w", err)
	}
	b.Queue = queue

	b.Deps = upload.Deps{
		Projects:  b.Projects,
		Catalog:   b.Catalog,
		Store:     b.Objects,
		Jobs:      job.NewRepository(store, opts.JobTTL),
		Folders:   folder.NewResolver(store, opts.Folder),
		Locker:    lock.NewLocker(store, opts.LockTTL),
		Queue:     b.Queue,
		Publisher: b.Publisher,
	}

	logger.Info().
		Str("redis_addr", opts.Redis.Addr).
		Str("s3_endpoint", opts.S3.Internal.Endpoint).
		Str("queue_driver", opts.QueueDriver).
		Bool("events_enabled", opts.Events.Enabled).
		Msg("backends initialized")
	return b, nil
}

func openQueue(ctx context.Context, opts BackendOpts) (taskqueue.Queue, error) {
	driver := opts.QueueDriver
	if driver == "" || driver == queueDriverMemory {
		return taskqueue.NewMemoryQueue(), nil
	}

	d := taskqueue.Driver(driver)
	if d != taskqueue.DriverPostgres && d != taskqueue.DriverMySQL {
		return nil, fmt.Errorf("unsupported queue driver %q", driver)
	}
	db, err := taskqueue.Open(ctx, d, opts.QueueDSN)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewDBQueue(taskqueue.DBQueueConfig{
		DB:                db,
		Driver:            d,
		TableName:         opts.QueueTable,
		VisibilityTimeout: opts.QueueTimeout,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := q.EnsureSchema(ctx); err != nil {
		q.Close()
		return nil, err
	}
	debug.RegisterCheck("taskqueue", db.PingContext)
	return q, nil
}

func (b *Backends) Close() {
	if b.Queue != nil {
		if err := b.Queue.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close task queue")
		}
	}
	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close event publisher")
		}
	}
	if b.Projects != nil {
		b.Projects.Close()
	}
	if b.S3Pool != nil {
		b.S3Pool.Close()
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close redis")
		}
	}
}

// startFinalizeWorker runs finalize tasks from the queue until Stop.
func startFinalizeWorker(ctx context.Context, id string, b *Backends, cfg upload.Config, concurrency int, poll time.Duration) *taskqueue.Worker {
	finalizer, err := upload.NewFinalizer(cfg, b.Deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create finalizer")
	}

	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           id,
		Queue:        b.Queue,
		PollInterval: poll,
		Concurrency:  concurrency,
	})
	worker.RegisterHandler(finalizer)
	worker.Start(ctx)

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := worker.RefreshStats(ctx); err != nil {
					logger.Debug().Err(err).Msg("failed to refresh queue stats")
				}
			}
		}
	}()

	logger.Info().Str("worker_id", id).Int("concurrency", concurrency).Msg("finalize worker started")
	return worker
}
