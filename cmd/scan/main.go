// Command scan runs one read-only opportunity scan and prints the ranking.
// It places no orders and needs no keys; useful for tuning filters before
// letting the bot trade.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"hl-funding-bot/internal/config"
	"hl-funding-bot/internal/hl/rest"
	"hl-funding-bot/internal/logging"
	"hl-funding-bot/internal/market"
	"hl-funding-bot/internal/ranking"
	"hl-funding-bot/internal/ratelimit"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	timeout := flag.Duration("timeout", 2*time.Minute, "scan deadline")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	limiter := ratelimit.New(map[ratelimit.Channel]ratelimit.Budget{
		ratelimit.ChannelREST: {Capacity: cfg.RateLimit.RESTCapacity, Window: cfg.RateLimit.RESTWindow},
	})
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, limiter, log)
	md := market.New(restClient, nil, 0, log)
	funding := market.NewFundingHistory(restClient, 0)
	scanner := market.NewScanner(md, funding, log)

	obs, _, err := scanner.Observe(ctx, cfg.Strategy.Symbols)
	if err != nil {
		fatal(err)
	}
	result := ranking.Rank(obs, ranking.Thresholds{
		MinAvgFundingAPR:   cfg.Filters.MinAvgFundingAPR,
		MaxBidAskSpreadPct: cfg.Filters.MaxBidAskSpreadPct,
		MaxCrossSpreadPct:  cfg.Filters.MaxCrossSpreadPct,
		MinVolumeUSD:       cfg.Filters.MinVolumeUSD,
	})

	fmt.Printf("%-4s %-8s %12s %14s %10s %10s %12s\n",
		"#", "symbol", "avg apr %", "funding/hr", "perp bps", "cross %", "volume usd")
	for i, r := range result.Ranked {
		var o ranking.Observation
		for _, cand := range obs {
			if cand.Symbol == r.Symbol {
				o = cand
				break
			}
		}
		fmt.Printf("%-4d %-8s %12.2f %14.6f%% %10.1f %10.3f %12.0f\n",
			i+1, r.Symbol, r.AvgFundingAPR, o.CurrentFundingHr*100,
			o.PerpBidAskPct*100, o.PerpSpotCrossPct, o.DayVolumeUSD)
	}
	if len(result.Rejected) > 0 {
		fmt.Println()
		symbols := make([]string, 0, len(result.Rejected))
		for sym := range result.Rejected {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			fmt.Printf("rejected %-8s %s\n", sym, result.Rejected[sym])
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
