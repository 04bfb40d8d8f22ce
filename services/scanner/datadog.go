// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultDatadogSite = "datadoghq.com"

// DatadogConfig configures the Datadog-backed scanner.
type DatadogConfig struct {
	APIKey string
	AppKey string

	// Site is the Datadog site domain, e.g. "datadoghq.eu". Empty means
	// datadoghq.com.
	Site string

	// TagFilter scopes the metric queries. Empty means
	// "managed_by:wastehunter".
	TagFilter string

	// Region is stamped onto candidates. Empty means "us-west-2".
	Region string

	// HTTPClient overrides the transport. Nil means a 15s-timeout default.
	HTTPClient *http.Client

	// InstanceTypes maps host IDs to their current instance type. The
	// Datadog series only carry the host; without a type lookup the
	// scanner falls back to t3.micro.
	InstanceTypes map[string]string

	// InstanceNames maps host IDs to display names.
	InstanceNames map[string]string
}

// DatadogScanner queries the Datadog Metrics API for average CPU across
// tagged hosts and flags the idle ones.
type DatadogScanner struct {
	cfg    DatadogConfig
	base   string
	client *http.Client
	now    func() time.Time
}

var _ Scanner = (*DatadogScanner)(nil)

func NewDatadogScanner(cfg DatadogConfig) (*DatadogScanner, error) {
	if cfg.APIKey == "" || cfg.AppKey == "" {
		return nil, fmt.Errorf("scanner: datadog api and app keys are required")
	}
	site := cfg.Site
	if site == "" {
		site = defaultDatadogSite
	}
	if cfg.TagFilter == "" {
		cfg.TagFilter = "managed_by:wastehunter"
	}
	if cfg.Region == "" {
		cfg.Region = "us-west-2"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &DatadogScanner{
		cfg:    cfg,
		base:   fmt.Sprintf("https://api.%s/api/v1", site),
		client: client,
		now:    time.Now,
	}, nil
}

type ddSeries struct {
	Scope string `json:"scope"`

	// PointList entries are [timestamp, value] pairs; the value can be
	// null for gaps in the series.
	PointList [][2]*float64 `json:"pointlist"`
}

type ddQueryResponse struct {
	Series []json.RawMessage `json:"series"`
}

// Scan queries CPU and memory series concurrently, then flags hosts whose
// average CPU over the lookback window is below the threshold.
func (d *DatadogScanner) Scan(ctx context.Context, thresholds Thresholds) ([]Candidate, error) {
	cpuQuery := fmt.Sprintf("avg:system.cpu.user{%s} by {host}", d.cfg.TagFilter)
	memQuery := fmt.Sprintf("avg:system.mem.pct_usable{%s} by {host}", d.cfg.TagFilter)

	var cpuSeries, memSeries []ddSeries
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cpuSeries, err = d.queryMetric(gctx, cpuQuery, thresholds.Lookback)
		return err
	})
	g.Go(func() error {
		var err error
		memSeries, err = d.queryMetric(gctx, memQuery, thresholds.Lookback)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}

	memByHost := map[string]float64{}
	for _, s := range memSeries {
		host := extractHost(s.Scope)
		points := seriesValues(s)
		if len(points) == 0 {
			continue
		}
		avgUsable := mean(points)
		// pct_usable may arrive as a 0-1 fraction or a 0-100 percentage
		if avgUsable <= 1.0 {
			avgUsable *= 100
		}
		memByHost[host] = round1(100.0 - avgUsable)
	}

	scannedAt := d.now().UTC()
	var out []Candidate
	for _, s := range cpuSeries {
		host := extractHost(s.Scope)
		points := seriesValues(s)
		if len(points) == 0 {
			continue
		}
		avgCPU := round2(mean(points))
		if avgCPU >= thresholds.CPUPct {
			continue
		}
		p95CPU := round2(percentile95(points))

		currentType := d.cfg.InstanceTypes[host]
		if currentType == "" {
			currentType = "t3.micro"
		}
		recommended, ok := Recommend(currentType)
		if !ok {
			slog.Debug("no downsize available", "host", host, "type", currentType)
			continue
		}
		name := d.cfg.InstanceNames[host]
		if name == "" {
			name = host
		}

		c := Candidate{
			ResourceID:      host,
			Name:            name,
			Service:         "EC2",
			Region:          d.cfg.Region,
			CurrentSpec:     currentType,
			RecommendedSpec: recommended,
			CPUAvgPct:       avgCPU,
			CPUP95Pct:       p95CPU,
			MemoryAvgPct:    memByHost[host],
			ScannedAt:       scannedAt,
		}
		costMath(&c)
		c.Evidence = []string{
			fmt.Sprintf("CPU avg %.2f%% over last %s (threshold: <%.1f%%)",
				avgCPU, thresholds.Lookback, thresholds.CPUPct),
			fmt.Sprintf("CPU p95 %.2f%% across %d data points", p95CPU, len(points)),
			fmt.Sprintf("Memory avg %.1f%% utilized", memByHost[host]),
			fmt.Sprintf("Datadog agent confirmed on %s", host),
		}
		out = append(out, c)
	}
	scansTotal.WithLabelValues("datadog").Inc()
	slog.Info("datadog scan complete", "hosts", len(cpuSeries), "idle", len(out))
	return out, nil
}

func (d *DatadogScanner) queryMetric(ctx context.Context, query string, lookback time.Duration) ([]ddSeries, error) {
	now := d.now().Unix()
	start := now - int64(lookback.Seconds())

	params := url.Values{}
	params.Set("from", strconv.FormatInt(start, 10))
	params.Set("to", strconv.FormatInt(now, 10))
	params.Set("query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.base+"/query?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("DD-API-KEY", d.cfg.APIKey)
	req.Header.Set("DD-APPLICATION-KEY", d.cfg.AppKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("datadog query returned %d", resp.StatusCode)
	}

	var body ddQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding datadog response: %w", err)
	}
	series := make([]ddSeries, 0, len(body.Series))
	for _, raw := range body.Series {
		var s ddSeries
		if err := json.Unmarshal(raw, &s); err != nil {
			// skip malformed series rather than failing the scan
			slog.Warn("skipping malformed datadog series", "error", err)
			continue
		}
		series = append(series, s)
	}
	return series, nil
}

// extractHost pulls the instance ID out of a Datadog scope string like
// "host:i-xxx,tag:val".
func extractHost(scope string) string {
	for _, part := range strings.Split(scope, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "host:"); ok {
			return v
		}
	}
	return scope
}

func seriesValues(s ddSeries) []float64 {
	vals := make([]float64, 0, len(s.PointList))
	for _, p := range s.PointList {
		if p[1] != nil && !math.IsNaN(*p[1]) {
			vals = append(vals, *p[1])
		}
	}
	return vals
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func percentile95(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	return sorted[idx]
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
