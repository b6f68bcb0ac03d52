package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-parlor/backend/internal/config"
	"github.com/zhouzirui/z-parlor/backend/internal/handler"
	"github.com/zhouzirui/z-parlor/backend/internal/model/role"
	"github.com/zhouzirui/z-parlor/backend/internal/service/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/service/gateway"
	"github.com/zhouzirui/z-parlor/backend/internal/service/guard"
	"github.com/zhouzirui/z-parlor/backend/internal/service/memory"
	"github.com/zhouzirui/z-parlor/backend/internal/service/retrieval"
	"github.com/zhouzirui/z-parlor/backend/internal/service/turn"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	roleStore := role.NewMemoryStore(role.Seed())
	chatService := chat.NewService()

	durable := openDurable(cfg.Memory)
	defer durable.Close()

	memoryStore := memory.NewStore(durable, memory.Config{
		TTL:          cfg.Memory.TTL,
		FlushRetries: cfg.Memory.FlushRetries,
		FlushBackoff: cfg.Memory.FlushBackoff,
	})
	defer memoryStore.Close()

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("failed to initialize chat model: %v", err)
	}
	log.Printf("chat model initialized: provider=%s model=%s", cfg.AI.Provider, cfg.AI.Model)

	var retriever retrieval.Retriever
	if cfg.Retrieval.Enabled {
		retriever = retrieval.NewStaticRetriever(retrieval.DevEntries())
		log.Println("knowledge retrieval enabled with built-in entries")
	} else {
		log.Println("knowledge retrieval disabled by configuration")
	}

	turnService := turn.NewService(
		guard.NewService(nil),
		roleStore,
		chatService,
		memoryStore,
		retriever,
		gateway.NewService(chatModel, cfg.AI.Timeout),
		turn.Config{
			HistoryLimit:     cfg.Turn.HistoryLimit,
			RetrievalTimeout: cfg.Retrieval.Timeout,
			RetrievalTopK:    cfg.Retrieval.TopK,
			StreamBuffer:     cfg.Turn.StreamBuffer,
		},
	)

	router := handler.NewRouter(roleStore, chatService, turnService, memoryStore)

	startServer(ctx, cfg.Server, router)
}

// openDurable picks the persistent history tier: on-disk badger when a
// path is configured, in-memory otherwise.
func openDurable(cfg config.MemoryConfig) *memory.BadgerStore {
	if cfg.BadgerPath != "" {
		store, err := memory.OpenBadger(cfg.BadgerPath)
		if err == nil {
			log.Printf("history store opened at %s", cfg.BadgerPath)
			return store
		}
		log.Printf("warning: failed to open history store at %s: %v", cfg.BadgerPath, err)
		log.Println("falling back to in-memory history store")
	}

	store, err := memory.OpenBadgerInMemory()
	if err != nil {
		log.Fatalf("failed to open in-memory history store: %v", err)
	}
	log.Println("history store running in memory")
	return store
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Z Parlor backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
