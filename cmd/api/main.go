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

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-attribute-store/internal/app"
	"github.com/imrishuroy/go-attribute-store/internal/aws"
	"github.com/imrishuroy/go-attribute-store/internal/config"
	"github.com/imrishuroy/go-attribute-store/internal/handlers"
	"github.com/imrishuroy/go-attribute-store/internal/ledger"
	"golang.org/x/sync/errgroup"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	store, err := app.New(cfg, clients)
	if err != nil {
		log.Fatalf("failed to wire store: %v", err)
	}

	r := setupRouter(handlers.HandlerConfig{
		Catalog:       store.Catalog,
		Coordinator:   store.Coordinator,
		LedgerAddress: cfg.LedgerRequestQueueURL,
	})

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runLocal(ctx, cfg.Addr, r, store.Ledger); err != nil {
			log.Fatalf("local server: %v", err)
		}
		return
	}

	// replies for in-flight transfers arrive on the reply queue
	go func() {
		if err := store.Ledger.Run(context.Background()); err != nil {
			log.Printf("ledger reply receiver stopped: %v", err)
		}
	}()

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

// runLocal serves HTTP and the ledger reply receiver until ctx is done.
func runLocal(ctx context.Context, addr string, h http.Handler, replies *ledger.SQSClient) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("running local server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return replies.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
