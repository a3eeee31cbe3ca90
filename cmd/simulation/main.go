package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/ksred/energydesk-api/internal/accounts"
	"github.com/ksred/energydesk-api/internal/auth"
	"github.com/ksred/energydesk-api/internal/instrument"
	"github.com/ksred/energydesk-api/internal/leaderboard"
	"github.com/ksred/energydesk-api/internal/trading"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const rateLimitBackoff = 6 * time.Second

// simConfig drives a simulation run against an already running server
type simConfig struct {
	ServerAddress   string  `env:"SIM_SERVER" env-default:"http://localhost:8080"`
	AdminPIN        string  `env:"ADMIN_PIN" env-default:"admin123"`
	Traders         int     `env:"SIM_TRADERS" env-default:"4"`
	TradesPerTrader int     `env:"SIM_TRADES" env-default:"10"`
	OTCRatio        float64 `env:"SIM_OTC_RATIO" env-default:"0.2"`
	CloseRatio      float64 `env:"SIM_CLOSE_RATIO" env-default:"0.5"`
}

type product struct {
	tradeType string
	hub       string
	price     float64
}

var products = []product{
	{"CRUDE_WTI", "CUSHING", 72.5},
	{"CRUDE_BRENT", "ICE_BRENT", 76.0},
	{"NAT_GAS", "HENRY_HUB", 3.2},
	{instrument.TypeBasisSwap, "WAHA", 0.45},
	{instrument.TypeOptionNG, "HENRY_HUB", 0.35},
}

var directions = []types.Direction{types.DirectionBuy, types.DirectionSell}

func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks latency for one endpoint
type routeStats struct {
	name      string
	durations []time.Duration
	failures  int
}

func (rs *routeStats) calculate() (min, max, mean, p95 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0
	}

	sorted := append([]time.Duration(nil), rs.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	p95idx := int(math.Ceil(float64(len(sorted))*0.95)) - 1
	return sorted[0], sorted[len(sorted)-1], sum / time.Duration(len(sorted)), sorted[p95idx]
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// simulationClient talks to the API and records per-route latency
type simulationClient struct {
	baseURL  string
	adminPIN string
	client   *http.Client

	mu    sync.Mutex
	stats map[string]*routeStats
}

func newSimulationClient(cfg simConfig) *simulationClient {
	return &simulationClient{
		baseURL:  strings.TrimRight(cfg.ServerAddress, "/"),
		adminPIN: cfg.AdminPIN,
		client:   &http.Client{Timeout: 10 * time.Second},
		stats:    make(map[string]*routeStats),
	}
}

func (sc *simulationClient) record(route string, d time.Duration, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rs, ok := sc.stats[route]
	if !ok {
		rs = &routeStats{name: route}
		sc.stats[route] = rs
	}
	rs.durations = append(rs.durations, d)
	if failed {
		rs.failures++
	}
}

// call sends one request, retrying while the server rate limits us, and decodes the data field into out
func (sc *simulationClient) call(route, method, path, token string, body, out interface{}) error {
	for attempt := 0; ; attempt++ {
		err := sc.do(route, method, path, token, body, out)
		var apiErr *apiError
		if attempt < 10 && errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
			time.Sleep(rateLimitBackoff)
			continue
		}
		return err
	}
}

func (sc *simulationClient) do(route, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+"/api/v1"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if strings.HasPrefix(path, "/admin") {
		req.Header.Set("X-Admin-PIN", sc.adminPIN)
	}

	start := time.Now()
	resp, err := sc.client.Do(req)
	if err != nil {
		sc.record(route, time.Since(start), true)
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	sc.record(route, time.Since(start), err != nil || resp.StatusCode >= 400)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if !envelope.Success {
		apiErr := &apiError{Status: resp.StatusCode}
		if envelope.Error != nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return apiErr
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

type simTrader struct {
	name  string
	token string
	open  []uint
}

// setupTrader registers a trader, activates them through the admin API, opts into OTC and signs in
func (sc *simulationClient) setupTrader(runID string, n int) (*simTrader, error) {
	pin := fmt.Sprintf("%04d", rand.Intn(10000))
	req := accounts.RegisterRequest{
		Name:        fmt.Sprintf("Sim %s %d", runID, n),
		DisplayName: fmt.Sprintf("Sim %d", n),
		Firm:        "Simulation",
		PIN:         pin,
	}
	var registered struct {
		TraderName string `json:"trader_name"`
	}
	if err := sc.call("register", http.MethodPost, "/traders/register", "", req, &registered); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	status := accounts.StatusRequest{Status: types.AccountStatusActive}
	if err := sc.call("admin_status", http.MethodPost, "/admin/traders/"+registered.TraderName+"/status", "", status, nil); err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}

	var token auth.TokenResponse
	creds := auth.Credentials{TraderName: registered.TraderName, PIN: pin}
	if err := sc.call("auth", http.MethodPost, "/auth/token", "", creds, &token); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	available := true
	if err := sc.call("otc_status", http.MethodPost, "/traders/otc-status", token.Token, accounts.OTCStatusRequest{OTCAvailable: &available}, nil); err != nil {
		return nil, fmt.Errorf("otc opt-in: %w", err)
	}

	return &simTrader{name: registered.TraderName, token: token.Token}, nil
}

func randomTrade() trading.TradeRequest {
	p := products[rand.Intn(len(products))]
	class := instrument.Classify(p.tradeType)
	lot := 1000.0
	if class == instrument.ClassNonCrude {
		lot = 10000.0
	}
	volume := lot * float64(rand.Intn(5)+1)
	price := p.price * (1 + (rand.Float64()-0.5)*0.02)
	return trading.TradeRequest{
		Type:       p.tradeType,
		Direction:  directions[rand.Intn(len(directions))],
		Hub:        p.hub,
		Volume:     &volume,
		EntryPrice: &price,
		Notes:      "simulation",
	}
}

type runStats struct {
	mu        sync.Mutex
	submitted int
	otc       int
	closed    int
	rejected  map[string]int
}

func (s *runStats) reject(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := "TRANSPORT"
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}
	s.rejected[code]++
}

func (s *runStats) add(field *int) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// runTrader submits trades for one trader and closes some of them at a drifted price
func runTrader(sc *simulationClient, cfg simConfig, trader *simTrader, peers []*simTrader, stats *runStats) {
	logger := log.With().Str("trader", trader.name).Logger()

	for i := 0; i < cfg.TradesPerTrader; i++ {
		req := randomTrade()

		if len(peers) > 0 && rand.Float64() < cfg.OTCRatio {
			peer := peers[rand.Intn(len(peers))]
			var result trading.OTCResult
			err := sc.call("submit_otc", http.MethodPost, "/trades/otc", trader.token,
				trading.OTCRequest{TradeRequest: req, Counterparty: peer.name}, &result)
			if err != nil {
				logger.Warn().Err(err).Str("counterparty", peer.name).Msg("OTC trade rejected")
				stats.reject(err)
				continue
			}
			stats.add(&stats.otc)
			trader.open = append(trader.open, result.Trade.ID)
			logger.Info().Uint("trade_id", result.Trade.ID).Uint("mirror_id", result.Mirror.ID).Msg("OTC trade booked")
		} else {
			var trade types.Trade
			if err := sc.call("submit", http.MethodPost, "/trades", trader.token, req, &trade); err != nil {
				logger.Warn().Err(err).Str("type", req.Type).Msg("trade rejected")
				stats.reject(err)
				continue
			}
			stats.add(&stats.submitted)
			trader.open = append(trader.open, trade.ID)
			logger.Info().Uint("trade_id", trade.ID).Str("type", trade.Type).Float64("volume", trade.Volume).Msg("trade booked")
		}

		if len(trader.open) > 0 && rand.Float64() < cfg.CloseRatio {
			idx := rand.Intn(len(trader.open))
			id := trader.open[idx]
			trader.open = append(trader.open[:idx], trader.open[idx+1:]...)

			closePrice := *req.EntryPrice * (1 + (rand.Float64()-0.5)*0.05)
			err := sc.call("close", http.MethodPost, fmt.Sprintf("/trades/%d/close", id), trader.token,
				trading.CloseRequest{ClosePrice: &closePrice}, nil)
			if err != nil {
				logger.Warn().Err(err).Uint("trade_id", id).Msg("close rejected")
				stats.reject(err)
			} else {
				stats.add(&stats.closed)
			}
		}

		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%-16s %8s %8s %10s %10s %10s %10s\n", "Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "P95")
	fmt.Println(strings.Repeat("-", 80))

	routes := make([]string, 0, len(sc.stats))
	for route := range sc.stats {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	for _, route := range routes {
		stats := sc.stats[route]
		min, max, mean, p95 := stats.calculate()
		fmt.Printf("%-16s %8d %8d %10s %10s %10s %10s\n",
			stats.name, len(stats.durations), stats.failures,
			min.Round(time.Millisecond), max.Round(time.Millisecond),
			mean.Round(time.Millisecond), p95.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 80))
}

func main() {
	_ = godotenv.Load()

	var cfg simConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to read simulation config")
	}

	sc := newSimulationClient(cfg)
	runID := strings.Split(uuid.NewString(), "-")[0]
	started := time.Now()

	var traders []*simTrader
	for i := 1; i <= cfg.Traders; i++ {
		trader, err := sc.setupTrader(runID, i)
		if err != nil {
			log.Fatal().Err(err).Int("trader", i).Msg("Failed to set up trader")
		}
		traders = append(traders, trader)
		log.Info().Str("trader", trader.name).Msg("Trader ready")
	}

	stats := &runStats{rejected: make(map[string]int)}
	var wg sync.WaitGroup
	for i, trader := range traders {
		peers := make([]*simTrader, 0, len(traders)-1)
		peers = append(peers, traders[:i]...)
		peers = append(peers, traders[i+1:]...)

		wg.Add(1)
		go func(trader *simTrader, peers []*simTrader) {
			defer wg.Done()
			runTrader(sc, cfg, trader, peers, stats)
		}(trader, peers)
	}
	wg.Wait()

	var board []leaderboard.Entry
	if err := sc.call("leaderboard", http.MethodGet, "/leaderboard", "", nil, &board); err != nil {
		log.Error().Err(err).Msg("Failed to fetch leaderboard")
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ENERGY DESK SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run:            %s\n", runID)
	fmt.Printf("Traders:        %d\n", len(traders))
	fmt.Printf("Trades booked:  %d\n", stats.submitted)
	fmt.Printf("OTC pairs:      %d\n", stats.otc)
	fmt.Printf("Closed:         %d\n", stats.closed)
	fmt.Printf("Duration:       %v\n", time.Since(started).Round(time.Millisecond))

	if len(stats.rejected) > 0 {
		fmt.Println("\nRejections")
		fmt.Println("----------")
		codes := make([]string, 0, len(stats.rejected))
		for code := range stats.rejected {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Printf("%-28s %d\n", code, stats.rejected[code])
		}
	}

	fmt.Println("\nLeaderboard")
	fmt.Println("-----------")
	for _, entry := range board {
		fmt.Printf("%3d. %-24s %14.2f %8.2f%%\n", entry.Rank, entry.TraderName, entry.Equity, entry.ReturnPct)
	}

	sc.printPerformanceStats()
}
