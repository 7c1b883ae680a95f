package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments
type OTelMetrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	httpRequestSize     metric.Int64Histogram
	httpResponseSize    metric.Int64Histogram

	// Store metrics
	storeCommandsTotal   metric.Int64Counter
	storeCommandDuration metric.Float64Histogram
	storeReconnectsTotal metric.Int64Counter
	storeFallbacksTotal  metric.Int64Counter

	// Cache metrics
	cacheHitsTotal      metric.Int64Counter
	cacheMissesTotal    metric.Int64Counter
	cacheEvictionsTotal metric.Int64Counter
	cacheSize           metric.Int64UpDownCounter

	// Authorization metrics
	authzChecksTotal metric.Int64Counter
	rolesCount       metric.Int64UpDownCounter
	tenantsCount     metric.Int64UpDownCounter
}

// NewOTelMetrics creates a new OTel metrics instance
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/curatorhq/curator")

	m := &OTelMetrics{}
	var err error

	// HTTP metrics
	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	m.httpRequestSize, err = meter.Int64Histogram(
		"http.server.request.size",
		metric.WithDescription("HTTP request size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_size histogram: %w", err)
	}

	m.httpResponseSize, err = meter.Int64Histogram(
		"http.server.response.size",
		metric.WithDescription("HTTP response size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_response_size histogram: %w", err)
	}

	// Store metrics
	m.storeCommandsTotal, err = meter.Int64Counter(
		"store.commands.total",
		metric.WithDescription("Total number of key-value store commands"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_commands_total counter: %w", err)
	}

	m.storeCommandDuration, err = meter.Float64Histogram(
		"store.command.duration",
		metric.WithDescription("Key-value store command duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_command_duration histogram: %w", err)
	}

	m.storeReconnectsTotal, err = meter.Int64Counter(
		"store.reconnects.total",
		metric.WithDescription("Total number of successful store reconnects"),
		metric.WithUnit("{reconnect}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_reconnects_total counter: %w", err)
	}

	m.storeFallbacksTotal, err = meter.Int64Counter(
		"store.fallbacks.total",
		metric.WithDescription("Total number of fallbacks to the in-memory engine"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_fallbacks_total counter: %w", err)
	}

	// Cache metrics
	m.cacheHitsTotal, err = meter.Int64Counter(
		"cache.hits.total",
		metric.WithDescription("Total number of cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_hits_total counter: %w", err)
	}

	m.cacheMissesTotal, err = meter.Int64Counter(
		"cache.misses.total",
		metric.WithDescription("Total number of cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_misses_total counter: %w", err)
	}

	m.cacheEvictionsTotal, err = meter.Int64Counter(
		"cache.evictions.total",
		metric.WithDescription("Total number of cache evictions"),
		metric.WithUnit("{eviction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_evictions_total counter: %w", err)
	}

	m.cacheSize, err = meter.Int64UpDownCounter(
		"cache.size",
		metric.WithDescription("Current cache size"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_size gauge: %w", err)
	}

	// Authorization metrics
	m.authzChecksTotal, err = meter.Int64Counter(
		"authz.checks.total",
		metric.WithDescription("Total number of authorization checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz_checks_total counter: %w", err)
	}

	m.rolesCount, err = meter.Int64UpDownCounter(
		"directory.roles",
		metric.WithDescription("Number of roles currently defined"),
		metric.WithUnit("{role}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory_roles gauge: %w", err)
	}

	m.tenantsCount, err = meter.Int64UpDownCounter(
		"directory.tenants",
		metric.WithDescription("Number of tenants currently known"),
		metric.WithUnit("{tenant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory_tenants gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, requestSize, responseSize int64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if requestSize > 0 {
		m.httpRequestSize.Record(ctx, requestSize, metric.WithAttributes(attrs...))
	}
	if responseSize > 0 {
		m.httpResponseSize.Record(ctx, responseSize, metric.WithAttributes(attrs...))
	}
}

// RecordStoreCommand records a key-value store command metric
func (m *OTelMetrics) RecordStoreCommand(ctx context.Context, command, backend string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("store.command", command),
		attribute.String("store.backend", backend),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error", "true"))
	} else {
		attrs = append(attrs, attribute.String("error", "false"))
	}

	m.storeCommandsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.storeCommandDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordStoreReconnect records a successful reconnect to the remote store
func (m *OTelMetrics) RecordStoreReconnect(ctx context.Context) {
	m.storeReconnectsTotal.Add(ctx, 1)
}

// RecordStoreFallback records a fallback to the in-memory engine
func (m *OTelMetrics) RecordStoreFallback(ctx context.Context) {
	m.storeFallbacksTotal.Add(ctx, 1)
}

// RecordCacheHit records a cache hit
func (m *OTelMetrics) RecordCacheHit(ctx context.Context, cacheType string) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.type", cacheType),
	}
	m.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheMiss records a cache miss
func (m *OTelMetrics) RecordCacheMiss(ctx context.Context, cacheType string) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.type", cacheType),
	}
	m.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheEviction records a cache eviction
func (m *OTelMetrics) RecordCacheEviction(ctx context.Context, cacheType string) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.type", cacheType),
	}
	m.cacheEvictionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// UpdateCacheSize updates the cache size metric
func (m *OTelMetrics) UpdateCacheSize(ctx context.Context, cacheType string, size int64) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.type", cacheType),
	}
	m.cacheSize.Add(ctx, size, metric.WithAttributes(attrs...))
}

// RecordAuthzCheck records an authorization decision
func (m *OTelMetrics) RecordAuthzCheck(ctx context.Context, decision string) {
	attrs := []attribute.KeyValue{
		attribute.String("authz.decision", decision),
	}
	m.authzChecksTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// UpdateDirectoryCounts adjusts the role and tenant counts
func (m *OTelMetrics) UpdateDirectoryCounts(ctx context.Context, rolesDelta, tenantsDelta int64) {
	if rolesDelta != 0 {
		m.rolesCount.Add(ctx, rolesDelta)
	}
	if tenantsDelta != 0 {
		m.tenantsCount.Add(ctx, tenantsDelta)
	}
}
