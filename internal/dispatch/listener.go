package dispatch

import (
	"context"
	"log"

	"github.com/dharsanguruparan/vidconvert/internal/s3storage"
)

// Notifications streams object-created events from a bucket.
type Notifications interface {
	ListenCreated(ctx context.Context, bucket, prefix string, errs func(error)) <-chan s3storage.Created
}

// Listen forwards every object created under uploads/ in bucket to handle
// until ctx is cancelled. handle errors are logged; the listener keeps going.
func Listen(ctx context.Context, src Notifications, bucket string, handle func(context.Context, Event) error, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	events := src.ListenCreated(ctx, bucket, "uploads/", func(err error) {
		logger.Printf("bucket notification error: %v", err)
	})
	for created := range events {
		ev := Event{Bucket: created.Bucket, Name: created.Key}
		if err := handle(ctx, ev); err != nil {
			logger.Printf("handle %s/%s: %v", ev.Bucket, ev.Name, err)
		}
	}
	return ctx.Err()
}
