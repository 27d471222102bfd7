package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-attribute-store/internal/app"
	"github.com/imrishuroy/go-attribute-store/internal/aws"
	"github.com/imrishuroy/go-attribute-store/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage == config.StorageMemory {
		log.Printf("[worker] STORAGE=memory: reconciliation will not see the API's state")
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}
	store, err := app.New(cfg, clients)
	if err != nil {
		log.Fatalf("failed to wire store: %v", err)
	}
	p := NewProcessor(store.Coordinator)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"transaction_id":0,"status":"ok"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		log.Printf("local batch failures: %d", len(resp.BatchItemFailures))
		return
	}

	lambda.Start(p.Invoke)
}
