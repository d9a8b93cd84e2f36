package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/tool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kardex_assistant/internal/cache"
	"kardex_assistant/internal/config"
	"kardex_assistant/internal/core"
	"kardex_assistant/internal/llm"
	"kardex_assistant/internal/logger"
	"kardex_assistant/internal/metrics"
	"kardex_assistant/internal/nodes"
	"kardex_assistant/internal/services"
	"kardex_assistant/internal/storage"
	"kardex_assistant/pkg"
)

// app holds everything the terminal loop needs
type app struct {
	cfg        *config.Config
	processor  *core.Processor
	dispatcher *llm.Dispatcher
	cache      *cache.Service
	catalog    nodes.Storage
	sessions   storage.SessionStore
	tools      map[string]tool.InvokableTool
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, reading configuration from the environment")
	}

	phone := flag.String("phone", os.Getenv("KARDEX_PHONE"), "customer phone number used as the session key")
	voice := flag.Bool("voice", false, "mark every message as transcribed from a voice note")
	flag.Parse()
	if *phone == "" {
		*phone = "51987654321"
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.InitLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start assistant")
		os.Exit(1)
	}
	defer a.Close()

	if !a.dispatcher.IsAvailable(ctx) {
		logger.Warn().Str("provider", cfg.LLM.Provider).Msg("Model backend not reachable, replies will use fallback templates")
	} else if !a.dispatcher.HasModel(ctx) {
		logger.Warn().Str("model", cfg.LLM.Model).Msg("Configured model not found on backend")
	}

	a.repl(ctx, *phone, *voice)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.NewMetrics(reg)
		srv := serveMetrics(cfg.Metrics.Addr, reg)
		a.closers = append(a.closers, func() { stopMetrics(srv) })
	}

	a.cache = cache.New(cfg.Cache, cache.WithMetrics(m))
	janitor, err := cache.NewJanitor(a.cache, cfg.Cache.Sweep)
	if err != nil {
		return nil, err
	}
	janitor.Start()
	a.closers = append(a.closers, janitor.Stop)

	profiles, err := config.LoadProfiles(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("load model profiles: %w", err)
	}
	var health llm.HealthChecker
	if h, err := llm.NewHealthChecker(cfg.LLM); err != nil {
		logger.Warn().Err(err).Msg("Model health probe disabled")
	} else {
		health = h
	}
	a.dispatcher = llm.NewDispatcher(llm.NewChatCompleter(cfg.LLM), profiles, health, m)

	catalog, closeCatalog, err := openCatalog(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.catalog = catalog
	a.closers = append(a.closers, closeCatalog)

	sessions, closeSessions, err := openSessions(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.sessions = sessions
	a.closers = append(a.closers, closeSessions)

	api := services.NewKardexAPI(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
	executor := nodes.NewQueryExecutor(catalog, api, sessions, a.cache, m)

	a.tools, err = nodes.CatalogTools(ctx, executor)
	if err != nil {
		return nil, err
	}

	a.processor = core.NewProcessor(
		nodes.NewIntentResolver(a.dispatcher, a.cache, m),
		executor,
		nodes.NewResponseGenerator(a.dispatcher, a.cache, m),
		nodes.NewModelOrderProcessor(a.dispatcher, executor),
		m,
		core.WithHealthProbe(a.dispatcher),
	)

	logger.Info().
		Str("provider", cfg.LLM.Provider).
		Str("model", cfg.LLM.Model).
		Str("storage", cfg.Storage.Driver).
		Bool("redis", cfg.Redis.URL != "").
		Bool("metrics", m != nil).
		Msg("Assistant ready")
	return a, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
	return srv
}

// stopMetrics shuts the metrics server down, logging any failure
func stopMetrics(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Str("addr", srv.Addr).Msg("Failed to shut down metrics server")
		return err
	}
	return nil
}

// openCatalog returns the configured structured store. SQLite is seeded with the demo catalog when empty.
func openCatalog(ctx context.Context, cfg config.StorageConfig) (nodes.Storage, func(), error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres driver")
		}
		pg, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		stopPing, err := pg.KeepAlive(cfg.HealthCheck)
		if err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, func() {
			stopPing()
			pg.Close()
		}, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		db, err := storage.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := seedSQLite(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	default:
		return services.NewDemoCatalog(), func() {}, nil
	}
}

func seedSQLite(ctx context.Context, db *storage.SQLite) error {
	existing, err := db.ProductsByFilter(ctx, pkg.CatalogFilters{Limit: 1})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, p := range services.DemoProducts() {
		if err := db.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}
	for _, c := range services.DemoCustomers() {
		if err := db.UpsertCustomer(ctx, c); err != nil {
			return err
		}
	}
	logger.Info().Int("products", len(services.DemoProducts())).Msg("Seeded SQLite catalog with demo data")
	return nil
}

func openSessions(ctx context.Context, cfg config.RedisConfig) (storage.SessionStore, func(), error) {
	if cfg.URL == "" {
		return storage.NewMemorySessionStore(cfg.TTL, cfg.HistoryTurns*2), func() {}, nil
	}
	rs, err := storage.NewRedisSessionStore(ctx, cfg.URL, cfg.TTL, cfg.HistoryTurns*2)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { rs.Close() }, nil
}

func (a *app) repl(ctx context.Context, phone string, voice bool) {
	fmt.Println("🛒 KARDEX Sales Assistant")
	fmt.Printf("Session: %s\n", phone)
	fmt.Println("Commands:")
	fmt.Println("  /stats              - Cache statistics")
	fmt.Println("  /tools              - List catalog tools")
	fmt.Println("  /tool <name> <json> - Run a catalog tool")
	fmt.Println("  /state              - Show session state")
	fmt.Println("  /clear              - Clear cache and session")
	fmt.Println("  /quit               - Exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(">> ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if ctx.Err() != nil {
			return
		}

		command, rest, _ := strings.Cut(input, " ")
		switch command {
		case "/quit":
			return
		case "/stats":
			printJSON(a.cache.Stats())
		case "/tools":
			names := make([]string, 0, len(a.tools))
			for name := range a.tools {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if info, err := a.tools[name].Info(ctx); err == nil {
					fmt.Printf("  - %s: %s\n", name, info.Desc)
				}
			}
		case "/tool":
			name, args, _ := strings.Cut(strings.TrimSpace(rest), " ")
			a.runTool(ctx, name, args)
		case "/state":
			state, err := a.sessions.State(ctx, phone)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			printJSON(state)
		case "/clear":
			a.cache.Clear()
			if err := a.sessions.Delete(ctx, phone); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			fmt.Println("Cleared cache and session")
		default:
			result := a.handle(ctx, phone, input, voice)
			fmt.Println(core.Summary(result))
			printJSON(result)
		}
	}
}

func (a *app) runTool(ctx context.Context, name, args string) {
	t, ok := a.tools[name]
	if !ok {
		fmt.Printf("Unknown tool: %s\n", name)
		return
	}
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	out, err := t.InvokableRun(ctx, args)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(out)
}

// handle runs one message with the persisted session and history, then records the exchange
func (a *app) handle(ctx context.Context, phone, text string, voice bool) pkg.ProcessResult {
	history, err := a.sessions.History(ctx, phone, a.cfg.Redis.HistoryTurns)
	if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		logger.Warn().Err(err).Msg("Failed to load history")
	}

	state := a.sessionState(ctx, phone)
	result := a.processor.Process(ctx, text, pkg.RequestContext{
		SessionState: state,
		History:      history,
		IsFromVoice:  voice,
	})

	if err := a.sessions.Save(ctx, phone, text, false); err != nil {
		logger.Warn().Err(err).Msg("Failed to save user message")
	}
	if result.Message != nil {
		if err := a.sessions.Save(ctx, phone, *result.Message, true); err != nil {
			logger.Warn().Err(err).Msg("Failed to save bot message")
		}
	}
	if next, changed := applyAction(state, result); changed {
		if err := a.sessions.SetState(ctx, phone, next); err != nil {
			logger.Warn().Err(err).Msg("Failed to update session state")
		}
	}
	return result
}

// sessionState loads the stored state and fills in the customer identity on first contact
func (a *app) sessionState(ctx context.Context, phone string) pkg.SessionState {
	var state pkg.SessionState
	stored, err := a.sessions.State(ctx, phone)
	switch {
	case err == nil && stored != nil:
		state = *stored
	case err != nil && !errors.Is(err, storage.ErrSessionNotFound):
		logger.Warn().Err(err).Msg("Failed to load session state")
	}
	if state.PhoneNumber == "" {
		state.PhoneNumber = phone
	}
	if state.State == "" {
		state.State = pkg.StateIdle
	}

	if !state.Authenticated && a.catalog.Connected() {
		if c, err := a.catalog.CustomerByPhone(ctx, phone); err == nil && c != nil {
			state.Authenticated = true
			state.ClientName = c.Name
			if err := a.sessions.SetState(ctx, phone, state); err != nil {
				logger.Warn().Err(err).Msg("Failed to store customer identity")
			}
		}
	}
	return state
}

// applyAction moves the session through the order states the CLI understands
func applyAction(state pkg.SessionState, result pkg.ProcessResult) (pkg.SessionState, bool) {
	switch result.Action {
	case pkg.ActionAddProductsToOrder:
		outcome, ok := result.Data.(nodes.OrderOutcome)
		if !ok {
			return state, false
		}
		draft, ok := outcome.Data.(nodes.OrderDraft)
		if !ok {
			return state, false
		}
		state.State = pkg.StateAwaitingConfirmation
		state.CurrentOrder = &pkg.PendingOrder{Products: draft.Products, Total: draft.Total}
		return state, true
	case pkg.ActionConfirmOrder:
		if state.CurrentOrder == nil {
			return state, false
		}
		state.State = pkg.StateAwaitingPayment
		return state, true
	case pkg.ActionCancelOrder:
		state.State = pkg.StateIdle
		state.CurrentOrder = nil
		return state, true
	default:
		return state, false
	}
}

func printJSON(v any) {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling output: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
