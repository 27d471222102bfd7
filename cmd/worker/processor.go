package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-attribute-store/internal/ledger"
)

// Reconciler settles late ledger replies.
type Reconciler interface {
	Reconcile(ctx context.Context, r ledger.Reply) error
	SettlePaid(ctx context.Context) (int, error)
}

// Processor consumes the reconcile queue: each record is a ledger reply
// that arrived after its purchase call stopped waiting.
type Processor struct {
	reconciler Reconciler
}

// NewProcessor creates a new worker processor around r.
func NewProcessor(r Reconciler) *Processor {
	return &Processor{reconciler: r}
}

// Invoke is the Lambda entry point. The function is subscribed to the
// reconcile queue and to an EventBridge schedule; scheduled invocations
// only settle paid attempts.
func (p *Processor) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	var shape struct {
		Records    []json.RawMessage `json:"Records"`
		DetailType string            `json:"detail-type"`
	}
	if err := json.Unmarshal(payload, &shape); err != nil {
		return nil, fmt.Errorf("decode invocation: %w", err)
	}
	if len(shape.Records) == 0 && shape.DetailType != "" {
		var ev events.CloudWatchEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode scheduled event: %w", err)
		}
		return nil, p.Settle(ctx, ev)
	}

	var ev events.SQSEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode sqs event: %w", err)
	}
	return p.Handle(ctx, ev)
}

// Settle grants attempts that were paid but whose grant failed.
func (p *Processor) Settle(ctx context.Context, ev events.CloudWatchEvent) error {
	n, err := p.reconciler.SettlePaid(ctx)
	if err != nil {
		return fmt.Errorf("settle paid attempts: %w", err)
	}
	log.Printf("[worker] %s id=%s settled %d paid attempts", ev.DetailType, ev.ID, n)
	return nil
}

// Handle processes an SQS batch and reports the records to retry.
// Malformed bodies are dropped since retrying them can never succeed.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Lambda redelivers just this record; after maxReceiveCount it goes to the DLQ.
			log.Printf("[worker] message=%s: %v", rec.MessageId, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}

	// a late confirmation may follow a grant that failed; settle those too
	n, err := p.reconciler.SettlePaid(ctx)
	if err != nil {
		log.Printf("[worker] settle paid attempts: %v", err)
	} else if n > 0 {
		log.Printf("[worker] settled %d paid attempts", n)
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	r, err := ledger.DecodeReply(rec.Body)
	if err != nil {
		log.Printf("[worker] dropping malformed reply: %v, body: %s", err, rec.Body)
		return nil
	}

	log.Printf("[worker] received tx=%d status=%s", r.TransactionID, r.Status)
	return p.reconciler.Reconcile(ctx, r)
}
