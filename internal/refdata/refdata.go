// Package refdata ingests the independent reference-data CSV feed and
// upserts it into reference_metrics. It runs on its own schedule,
// decoupled from the nightly run: a failed or late ingest never blocks or
// fails the core pipeline, it just leaves reference_metrics stale.
package refdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/sentinel-quant/nightly-compute/internal/domain"
	"github.com/sentinel-quant/nightly-compute/internal/objectstore"
	"github.com/sentinel-quant/nightly-compute/internal/repository"
)

// row is the CSV wire shape of one reference-data record. Field order
// matches the source feed's header row.
type row struct {
	TradingDate     string   `csv:"trading_date"`
	SourceStockCode string   `csv:"source_stock_code"`
	SurfaceSymbol   string   `csv:"surface_symbol"`
	MetricCode      string   `csv:"metric_code"`
	ValueNumeric    *float64 `csv:"value_numeric"`
	ValueText       string   `csv:"value_text"`
}

// Ingester polls an object storage prefix for reference-data CSV objects
// dropped there by an upstream publisher, optionally mirroring them in from
// a remote URL first when one is configured.
type Ingester struct {
	httpClient *retryablehttp.Client
	store      *objectstore.Store
	repo       *repository.Repository
	prefix     string
	mirrorURL  string
	interval   time.Duration
	log        zerolog.Logger
}

func New(store *objectstore.Store, repo *repository.Repository, prefix, mirrorURL string, interval time.Duration, log zerolog.Logger) *Ingester {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	if interval == 0 {
		interval = time.Hour
	}
	if prefix == "" {
		prefix = "reference/"
	}
	return &Ingester{
		httpClient: client,
		store:      store,
		repo:       repo,
		prefix:     prefix,
		mirrorURL:  mirrorURL,
		interval:   interval,
		log:        log.With().Str("component", "refdata").Logger(),
	}
}

// Run blocks, ingesting on every tick until ctx is canceled. The first
// ingest happens immediately rather than waiting a full interval.
func (ing *Ingester) Run(ctx context.Context) {
	if err := ing.ingestOnce(ctx); err != nil {
		ing.log.Warn().Err(err).Msg("reference data ingest failed")
	}

	ticker := time.NewTicker(ing.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ing.ingestOnce(ctx); err != nil {
				ing.log.Warn().Err(err).Msg("reference data ingest failed")
			}
		}
	}
}

func (ing *Ingester) ingestOnce(ctx context.Context) error {
	if ing.mirrorURL != "" {
		if err := ing.mirrorIn(ctx); err != nil {
			ing.log.Warn().Err(err).Msg("reference feed mirror failed, ingesting from bucket as-is")
		}
	}

	keys, err := ing.store.List(ctx, ing.prefix)
	if err != nil {
		return fmt.Errorf("list reference objects: %w", err)
	}

	var totalStored, totalSkipped int
	for _, key := range keys {
		body, err := ing.store.Get(ctx, key)
		if err != nil {
			ing.log.Error().Err(err).Str("key", key).Msg("failed to download reference object")
			continue
		}

		stored, skipped := ing.ingestCSV(ctx, body)
		totalStored += stored
		totalSkipped += skipped
	}

	ing.log.Info().Int("objects", len(keys)).Int("stored", totalStored).Int("skipped", totalSkipped).Msg("reference data ingest complete")
	return nil
}

// mirrorIn fetches a fresh snapshot from the configured remote URL and
// drops it into the bucket prefix under today's timestamp, so the bucket
// remains the single source the ingest loop reads from.
func (ing *Ingester) mirrorIn(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, ing.mirrorURL, nil)
	if err != nil {
		return fmt.Errorf("build mirror request: %w", err)
	}

	resp, err := ing.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch mirror: %w", err)
	}
	defer resp.Body.Close()

	key := path.Join(ing.prefix, fmt.Sprintf("mirror-%d.csv", time.Now().UnixNano()))
	return ing.store.PutReport(ctx, key, resp.Body, "text/csv")
}

func (ing *Ingester) ingestCSV(ctx context.Context, body []byte) (stored, skipped int) {
	var rows []row
	if err := gocsv.UnmarshalBytes(body, &rows); err != nil {
		ing.log.Error().Err(err).Msg("failed to parse reference csv")
		return 0, 0
	}

	for _, r := range rows {
		tradingDate, err := time.Parse("2006-01-02", r.TradingDate)
		if err != nil {
			skipped++
			continue
		}

		metric := domain.ReferenceMetric{
			TradingDate:     tradingDate,
			SourceStockCode: r.SourceStockCode,
			SurfaceSymbol:   r.SurfaceSymbol,
			MetricCode:      r.MetricCode,
			ValueNumeric:    r.ValueNumeric,
		}
		if r.ValueText != "" {
			metric.ValueText = &r.ValueText
		}

		if err := ing.repo.UpsertReferenceMetric(ctx, metric); err != nil {
			ing.log.Error().Err(err).Str("source_stock_code", r.SourceStockCode).Str("metric", r.MetricCode).Msg("upsert reference metric failed")
			skipped++
			continue
		}
		stored++
	}
	return stored, skipped
}
