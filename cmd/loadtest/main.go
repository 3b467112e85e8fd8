// loadtest hammers a running server's metrics endpoints with vegeta to
// check that concurrent identical requests collapse into one fetch:
//
//	go run ./cmd/loadtest -target http://localhost:5000 -rate 20 -duration 1m
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
	"go.uber.org/zap"

	"prpulse/internal/config"
	"prpulse/internal/logger"
)

func main() {
	var (
		target   = flag.String("target", "http://localhost:5000", "server base URL")
		rps      = flag.Int("rate", 10, "requests per second")
		duration = flag.Duration("duration", 30*time.Second, "attack duration")
		month    = flag.String("month", "", "also request this month, YYYY-MM")
		cold     = flag.Bool("cold", false, "clear the server cache before attacking")
	)
	flag.Parse()

	log, err := logger.New(&config.Logger{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	httpc := &http.Client{Timeout: 10 * time.Second}
	teams, err := fetchTeams(httpc, *target)
	if err != nil {
		log.Fatal("listing teams", zap.Error(err))
	}
	if len(teams) == 0 {
		log.Fatal("server has no teams configured")
	}
	if *cold {
		resp, err := httpc.Post(*target+"/api/clear-cache", "application/json", nil)
		if err != nil {
			log.Fatal("clearing cache", zap.Error(err))
		}
		resp.Body.Close()
	}

	urls, err := targets(*target, teams, *month)
	if err != nil {
		log.Fatal("building targets", zap.Error(err))
	}

	rate := vegeta.Rate{Freq: *rps, Per: time.Second}
	attacker := vegeta.NewAttacker()
	var m vegeta.Metrics

	log.Info("starting attack", zap.String("target", *target), zap.Int("urls", len(urls)), zap.Duration("duration", *duration))
	for res := range attacker.Attack(roundRobin(urls), rate, *duration, "prpulse") {
		m.Add(res)
	}
	m.Close()

	fmt.Println("=== Results ===")
	fmt.Printf("Requests: %d\n", m.Requests)
	fmt.Printf("Success rate: %.4f%%\n", m.Success*100)
	fmt.Printf("Latency mean: %s\n", m.Latencies.Mean)
	fmt.Printf("Latency P95: %s\n", m.Latencies.P95)
	fmt.Printf("Latency P99: %s\n", m.Latencies.P99)
	fmt.Printf("Status codes: %v\n", m.StatusCodes)
}

func fetchTeams(httpc *http.Client, base string) ([]string, error) {
	resp, err := httpc.Get(base + "/api/teams")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /api/teams: status %d", resp.StatusCode)
	}
	var body struct {
		Teams []string `json:"teams"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Teams, nil
}

// targets lists each team's default view, plus its month view when month
// is set.
func targets(base string, teams []string, month string) ([]string, error) {
	var urls []string
	var first, last string
	if month != "" {
		t, err := time.Parse("2006-01", month)
		if err != nil {
			return nil, fmt.Errorf("month %q: expected YYYY-MM", month)
		}
		first = t.Format("2006-01-02")
		last = t.AddDate(0, 1, -1).Format("2006-01-02")
	}
	for _, team := range teams {
		u := base + "/api/github/metrics/" + url.PathEscape(team)
		urls = append(urls, u)
		if month != "" {
			urls = append(urls, u+"?start_date="+first+"&end_date="+last)
		}
	}
	return urls, nil
}

func roundRobin(urls []string) vegeta.Targeter {
	var n atomic.Uint64
	return func(t *vegeta.Target) error {
		i := n.Add(1) - 1
		t.Method = http.MethodGet
		t.URL = urls[i%uint64(len(urls))]
		t.Body = nil
		t.Header = http.Header{"Accept": {"application/json"}}
		return nil
	}
}
