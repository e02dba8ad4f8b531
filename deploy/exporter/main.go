// Queue exporter: a tiny sidecar that polls Redis for job-queue depth and
// in-flight counts and exposes them as Prometheus gauges. Runs next to the
// compose stack so queue pressure is scrapeable even when no worker is up.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "videogen_exporter_queue_depth",
		Help: "Pending jobs in the generation queue",
	})
	activeJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "videogen_exporter_active_jobs",
		Help: "Jobs currently held by workers",
	})
	eventChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "videogen_exporter_event_channels",
		Help: "Job event channels with at least one subscriber",
	})
	scrapeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "videogen_exporter_scrape_errors_total",
		Help: "Failed Redis polls",
	})
)

func init() {
	prometheus.MustRegister(queueDepth, activeJobs, eventChannels, scrapeErrors)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func collect(rdb *redis.Client, namespace string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	depth, err := rdb.LLen(ctx, namespace+"video_generation:queue").Result()
	if err != nil {
		log.Printf("queue depth poll failed: %v", err)
		scrapeErrors.Inc()
		return
	}
	queueDepth.Set(float64(depth))

	active, err := rdb.SCard(ctx, namespace+"video_generation:processing").Result()
	if err != nil {
		log.Printf("active jobs poll failed: %v", err)
		scrapeErrors.Inc()
		return
	}
	activeJobs.Set(float64(active))

	// PUBSUB CHANNELS only reports channels with live subscribers, which is
	// exactly the hint we want: how many jobs are being watched right now.
	channels, err := rdb.PubSubChannels(ctx, namespace+"job_events:*").Result()
	if err != nil {
		log.Printf("event channel poll failed: %v", err)
		scrapeErrors.Inc()
		return
	}
	eventChannels.Set(float64(len(channels)))
}

func main() {
	redisURL := envOr("REDIS_URL", "redis://localhost:6379")
	namespace := envOr("CACHE_NAMESPACE", "videogen:cache:")
	port := envOr("EXPORTER_PORT", "8000")

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("bad REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)

	go func() {
		for {
			collect(rdb, namespace)
			time.Sleep(15 * time.Second)
		}
	}()

	http.Handle("/metrics", promhttp.Handler())
	fmt.Println("Starting queue exporter on :" + port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}
