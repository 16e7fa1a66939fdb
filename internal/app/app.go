// Package app assembles the pipeline roles from configuration. Each Run
// function blocks until ctx is cancelled.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/vidconvert/internal/api"
	"github.com/dharsanguruparan/vidconvert/internal/config"
	"github.com/dharsanguruparan/vidconvert/internal/database"
	"github.com/dharsanguruparan/vidconvert/internal/dispatch"
	"github.com/dharsanguruparan/vidconvert/internal/events"
	"github.com/dharsanguruparan/vidconvert/internal/executor"
	"github.com/dharsanguruparan/vidconvert/internal/ffmpeg"
	"github.com/dharsanguruparan/vidconvert/internal/jobstore"
	"github.com/dharsanguruparan/vidconvert/internal/processing"
	"github.com/dharsanguruparan/vidconvert/internal/progresscache"
	"github.com/dharsanguruparan/vidconvert/internal/queue"
	"github.com/dharsanguruparan/vidconvert/internal/repository"
	"github.com/dharsanguruparan/vidconvert/internal/s3storage"
	"github.com/dharsanguruparan/vidconvert/internal/server"
	"github.com/dharsanguruparan/vidconvert/internal/signing"
	"github.com/dharsanguruparan/vidconvert/internal/statusapi"
	"github.com/dharsanguruparan/vidconvert/internal/uploads"
	"github.com/dharsanguruparan/vidconvert/internal/worker"
)

// Jobs is an open job store together with its progress mirror.
type Jobs struct {
	Store    jobstore.Store
	Progress *progresscache.Cache
	closers  []func()
}

// Close releases every connection opened by OpenJobs.
func (j *Jobs) Close() {
	for i := len(j.closers) - 1; i >= 0; i-- {
		j.closers[i]()
	}
}

// OpenJobs connects to PostgreSQL and decorates the repository with the
// redis progress mirror and, when brokers are configured, the kafka
// lifecycle publisher.
func OpenJobs(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Jobs, error) {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	jobs := &Jobs{closers: []func(){pool.Close}}
	var observers []jobstore.Observer
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(redisOptions(cfg))
		jobs.closers = append(jobs.closers, func() { _ = rdb.Close() })
		jobs.Progress = progresscache.New(rdb, cfg.ProgressTTL)
		observers = append(observers, jobs.Progress)
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		jobs.closers = append(jobs.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Printf("close event publisher: %v", err)
			}
		})
		observers = append(observers, pub)
	}
	repo := repository.NewJobRepository(pool, cfg.JobsCollection)
	jobs.Store = jobstore.NewObserved(repo, logger, observers...)
	return jobs, nil
}

// OpenObjects connects to object storage and creates missing buckets.
func OpenObjects(ctx context.Context, cfg *config.Config) (*s3storage.Storage, error) {
	objects, err := s3storage.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := objects.EnsureBuckets(ctx); err != nil {
		return nil, fmt.Errorf("ensure buckets: %w", err)
	}
	return objects, nil
}

// NewUploadService builds the upload authorization service.
func NewUploadService(cfg *config.Config, store jobstore.Store, objects uploads.Presigner) *uploads.Service {
	return uploads.NewService(store, objects, uploads.Options{
		Bucket:      cfg.UploadBucket,
		URLTTL:      cfg.UploadURLTTL,
		MaxFileSize: cfg.MaxFileSize,
	})
}

// RunAPI serves the upload authorization API.
func RunAPI(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if err := cfg.RequireUploadAPI(); err != nil {
		return err
	}
	jobs, err := OpenJobs(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer jobs.Close()
	objects, err := OpenObjects(ctx, cfg)
	if err != nil {
		return err
	}
	client := asynq.NewClient(redisClientOpt(cfg))
	defer client.Close()

	opts := api.Options{
		Address: cfg.Address,
		Queue:   queue.NewClient(client),
		Logger:  logger,
	}
	if jobs.Progress != nil {
		opts.Progress = jobs.Progress
	}
	srv := api.New(NewUploadService(cfg, jobs.Store, objects), jobs.Store, opts)
	return srv.Run(ctx)
}

// RunExecutor serves the conversion executor. With STATUS_SERVICE_URL set the
// job state is reported to the status service instead of the job store.
func RunExecutor(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if err := cfg.RequireExecutor(); err != nil {
		return err
	}
	objects, err := OpenObjects(ctx, cfg)
	if err != nil {
		return err
	}

	var tracker executor.Tracker
	if cfg.StatusServiceURL != "" {
		pool := processing.New(cfg.NotifyWorkers, cfg.NotifyQueue, logger)
		// notifications queued before shutdown are still delivered
		pool.Start(context.WithoutCancel(ctx))
		defer pool.Close()
		client := statusapi.NewClient(cfg.StatusServiceURL, cfg.StatusTimeout)
		tracker = statusapi.NewTracker(client, pool, cfg.InputBucket, logger)
	} else {
		jobs, err := OpenJobs(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer jobs.Close()
		tracker = executor.NewStoreTracker(jobs.Store)
	}

	svc := executor.New(tracker, objects, ffmpeg.NewConverter(logger), executor.Options{
		OutputBucket:   cfg.OutputBucket,
		DownloadURLTTL: cfg.DownloadURLTTL,
		TempDir:        cfg.TempDir,
		Instance:       cfg.ProcessorType,
		Logger:         logger,
	})
	return server.New(cfg.Address, svc, signing.NewSigner(cfg.DispatchSecret), logger).Serve(ctx)
}

// RunWorker consumes finalize tasks and, unless disabled, feeds them from
// bucket notifications.
func RunWorker(ctx context.Context, cfg *config.Config, listen bool, logger *log.Logger) error {
	if err := cfg.RequireRouter(); err != nil {
		return err
	}
	jobs, err := OpenJobs(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer jobs.Close()
	objects, err := OpenObjects(ctx, cfg)
	if err != nil {
		return err
	}

	invoker := dispatch.NewHTTPInvoker(signing.NewSigner(cfg.DispatchSecret), cfg.DispatchTimeout)
	router := dispatch.NewRouter(jobs.Store, objects, invoker, dispatch.Options{
		ThresholdMB: cfg.SmallThresholdMB,
		SmallURL:    cfg.SmallProcessorURL,
		LargeURL:    cfg.LargeProcessorURL,
		Logger:      logger,
	})

	if listen {
		client := asynq.NewClient(redisClientOpt(cfg))
		defer client.Close()
		q := queue.NewClient(client)
		go func() {
			err := dispatch.Listen(ctx, objects, cfg.UploadBucket, func(ctx context.Context, ev dispatch.Event) error {
				return q.Enqueue(ctx, queue.FinalizePayload{Bucket: ev.Bucket, Name: ev.Name})
			}, logger)
			logger.Printf("bucket listener stopped: %v", err)
		}()
	}

	srv := asynq.NewServer(redisClientOpt(cfg), asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	if err := srv.Start(worker.NewProcessor(router, logger).Handler()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}

func redisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func redisClientOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}
