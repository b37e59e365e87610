package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/semnotes/internal/api"
	"github.com/kalambet/semnotes/internal/composer"
	"github.com/kalambet/semnotes/internal/config"
	"github.com/kalambet/semnotes/internal/embedding"
	"github.com/kalambet/semnotes/internal/engine"
	"github.com/kalambet/semnotes/internal/indexsync"
	"github.com/kalambet/semnotes/internal/ingest"
	"github.com/kalambet/semnotes/internal/notes"
	"github.com/kalambet/semnotes/internal/rag"
	"github.com/kalambet/semnotes/internal/ranking"
	"github.com/kalambet/semnotes/internal/session"
	"github.com/kalambet/semnotes/internal/storage"
	"github.com/kalambet/semnotes/internal/vectorindex"
	"github.com/kalambet/semnotes/internal/vectorindex/pgvector"
	"github.com/kalambet/semnotes/internal/vectorindex/qdrant"
	"github.com/kalambet/semnotes/internal/vectorindex/sqlite"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the semnotes server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running semnotes server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show semnotes system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "semnotes.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// detectConfig maps the configuration onto engine selection for provider.
func detectConfig(cfg config.Config, provider string) engine.DetectConfig {
	return engine.DetectConfig{
		Provider:        provider,
		OllamaBaseURL:   cfg.Ollama.BaseURL,
		OpenAIBaseURL:   cfg.OpenAI.BaseURL,
		OpenAIAPIKey:    cfg.OpenAI.APIKey,
		AnthropicAPIKey: cfg.Anthropic.APIKey,
		AnthropicURL:    cfg.Anthropic.BaseURL,
	}
}

func isOllama(provider string) bool {
	p := strings.ToLower(strings.TrimSpace(provider))
	return p == "" || p == engine.ProviderOllama
}

// openIndex opens the configured vector index backend. The SQLite backend
// shares the record store's database.
func openIndex(ctx context.Context, cfg config.Config, store *storage.Store, logger *slog.Logger) (vectorindex.Index, error) {
	var (
		idx vectorindex.Index
		err error
	)
	switch cfg.Index.Backend {
	case "", config.IndexSQLite:
		idx, err = sqlite.Open(ctx, store.DB(), cfg.Index.Metric, logger)
	case config.IndexQdrant:
		idx, err = qdrant.Open(ctx, qdrant.Config{
			URL:        cfg.Index.QdrantURL,
			APIKey:     cfg.Index.QdrantAPIKey,
			Collection: cfg.Index.QdrantCollection,
			Timeout:    cfg.Timeouts.Index,
		}, logger)
	case config.IndexPGVector:
		idx, err = pgvector.Open(ctx, cfg.Index.PostgresDSN, cfg.Index.Metric, logger)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s index: %w", cfg.Index.Backend, err)
	}
	return vectorindex.WithTimeout(idx, cfg.Timeouts.Index), nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "semnotes version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("semnotes is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("semnotes is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Select inference backends.
	chatEngine, err := engine.Detect(detectConfig(cfg, cfg.Models.ChatProvider))
	if err != nil {
		return fmt.Errorf("detecting chat engine: %w", err)
	}
	embedEngine, err := engine.DetectEmbedder(detectConfig(cfg, cfg.Models.EmbedProvider))
	if err != nil {
		return fmt.Errorf("detecting embedding engine: %w", err)
	}

	// Local models are pulled on demand; hosted APIs are used as configured.
	switch {
	case isOllama(cfg.Models.ChatProvider) && isOllama(cfg.Models.EmbedProvider):
		err = engine.EnsureReady(ctx, chatEngine, cfg.Models.ChatModel, cfg.Models.EmbedModel, os.Stderr)
	case isOllama(cfg.Models.ChatProvider):
		err = engine.EnsureReady(ctx, chatEngine, cfg.Models.ChatModel, "", os.Stderr)
	case isOllama(cfg.Models.EmbedProvider):
		err = engine.EnsureReady(ctx, embedEngine, "", cfg.Models.EmbedModel, os.Stderr)
	}
	if err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	idx, err := openIndex(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer idx.Close()
	logger.Info("vector index ready", "backend", cfg.Index.Backend, "metric", idx.Metric())

	// Build the retrieval and answering services.
	gateway := embedding.NewGateway(embedEngine, cfg.Models.EmbedModel, cfg.Timeouts.Embed)
	ranker := ranking.New(gateway, idx, logger)
	syncMgr := indexsync.NewManager(store, gateway, idx, indexsync.NewCache(), logger)
	sessions := session.NewStore(cfg.Session.Timeout)
	orchestrator := rag.New(ranker, chatEngine, sessions, composer.New(0), rag.Config{
		Model:           cfg.Models.ChatModel,
		GenerateTimeout: cfg.Timeouts.Generate,
		HistoryLimit:    cfg.Session.HistoryMax,
	}, logger)
	svc := notes.NewService(notes.Deps{
		Store:    store,
		Sync:     syncMgr,
		Ranker:   ranker,
		RAG:      orchestrator,
		Sessions: sessions,
		Logger:   logger,
	})

	sweeper, err := session.NewSweeper(sessions, cfg.Session.SweepSchedule, logger)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Notes written while the index was unreachable, or before switching
	// backends, are picked up by a background refresh.
	go backfillIndex(ctx, svc, store, idx, logger)

	searchDefaults := notes.SearchParams{
		Limit:        cfg.Retrieval.Limit,
		Threshold:    cfg.Retrieval.Threshold,
		KeywordBoost: cfg.Retrieval.KeywordBoost,
	}
	handler := api.NewHandler(api.Deps{
		Notes:          svc,
		Importer:       ingest.NewExtractor(&http.Client{Timeout: 15 * time.Second}),
		Token:          cfg.Server.APIToken,
		SearchDefaults: searchDefaults,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// MCP shares stdout with nothing else, so it is opt-in.
	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Notes: svc, SearchDefaults: searchDefaults})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "semnotes listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type noteLister interface {
	FindAll(ctx context.Context) ([]storage.Note, error)
}

type refresher interface {
	RefreshEmbeddings(ctx context.Context) (int, error)
}

// backfillIndex re-embeds every note when the index and the store disagree:
// a note without a vector or a vector without a note.
func backfillIndex(ctx context.Context, svc refresher, store noteLister, idx vectorindex.Index, logger *slog.Logger) {
	all, err := store.FindAll(ctx)
	if err != nil {
		logger.Warn("index backfill: listing notes failed", "error", err)
		return
	}
	ids, err := idx.IDs(ctx)
	if err != nil {
		logger.Warn("index backfill: listing vectors failed", "error", err)
		return
	}
	missing, stale := indexDrift(all, ids)
	if missing == 0 && stale == 0 {
		return
	}

	logger.Info("index backfill started", "notes", len(all), "missing", missing, "stale", stale)
	n, err := svc.RefreshEmbeddings(ctx)
	if err != nil {
		logger.Warn("index backfill failed", "error", err)
		return
	}
	logger.Info("index backfill finished", "indexed", n)
}

// indexDrift counts notes absent from ids and ids with no matching note.
func indexDrift(all []storage.Note, ids []string) (missing, stale int) {
	indexed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		indexed[id] = struct{}{}
	}
	live := make(map[string]struct{}, len(all))
	for _, n := range all {
		live[n.ID] = struct{}{}
		if _, ok := indexed[n.ID]; !ok {
			missing++
		}
	}
	for id := range indexed {
		if _, ok := live[id]; !ok {
			stale++
		}
	}
	return missing, stale
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("semnotes is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop semnotes (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to semnotes (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if isOllama(cfg.Models.ChatProvider) || isOllama(cfg.Models.EmbedProvider) {
		ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
	}

	printStatus("Chat model", "%s (%s)", cfg.Models.ChatModel, cfg.Models.ChatProvider)
	printStatus("Embed model", "%s (%s)", cfg.Models.EmbedModel, cfg.Models.EmbedProvider)
	printStatus("Index", "%s", cfg.Index.Backend)

	if running {
		notesResp, err := apiGet(client, serverURL+"/api/v1/notes/", cfg.Server.APIToken)
		if err == nil {
			var list []storage.Note
			if decodeJSON(notesResp, &list) == nil {
				printStatus("Notes", "%d", len(list))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(req)
}
