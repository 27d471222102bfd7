package app

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/imrishuroy/go-attribute-store/internal/aws"
	"github.com/imrishuroy/go-attribute-store/internal/catalog"
	"github.com/imrishuroy/go-attribute-store/internal/config"
	"github.com/imrishuroy/go-attribute-store/internal/ledger"
	"github.com/imrishuroy/go-attribute-store/internal/ownership"
	"github.com/imrishuroy/go-attribute-store/internal/pending"
	"github.com/imrishuroy/go-attribute-store/internal/purchase"
)

// sequenceName is the counters-table row holding the next transaction id.
const sequenceName = "purchase_tx"

// App holds the wired store shared by the API and the worker.
type App struct {
	Catalog     *catalog.Service
	Coordinator *purchase.Coordinator
	Ledger      *ledger.SQSClient
}

// New wires stores, the ledger client and the coordinator from cfg.
func New(cfg config.Config, clients *aws.AWSClients) (*App, error) {
	if cfg.LedgerRequestQueueURL == "" || cfg.LedgerReplyQueueURL == "" {
		return nil, errors.New("LEDGER_REQUEST_QUEUE_URL and LEDGER_REPLY_QUEUE_URL are required")
	}

	var (
		items    catalog.Repository
		pend     pending.Ledger
		seq      pending.Sequence
		owners   ownership.Registry
		attempts purchase.AttemptLog
	)
	switch cfg.Storage {
	case config.StorageMemory:
		log.Printf("[app] using in-memory storage; state is lost on restart")
		items = catalog.NewMemoryStore()
		pend = pending.NewMemoryStore()
		seq = pending.NewMemorySequence(0)
		owners = ownership.NewMemoryStore()
		attempts = purchase.NewMemoryAttempts()
	default:
		items = catalog.NewStore(clients.DynamoDB, cfg.ItemsTable)
		pend = pending.NewStore(clients.DynamoDB, cfg.PendingTable)
		seq = pending.NewCounterStore(clients.DynamoDB, cfg.CountersTable, sequenceName)
		owners = ownership.NewStore(clients.DynamoDB, cfg.OwnersTable)
		attempts = purchase.NewAttemptStore(clients.DynamoDB, cfg.AttemptsTable)
	}

	var catalogOpts []catalog.ServiceOption
	if cfg.EventsQueueURL != "" {
		catalogOpts = append(catalogOpts, catalog.WithNotifier(catalog.NewSQSNotifier(aws.NewPublisher(clients.SQS, cfg.EventsQueueURL))))
	}
	svc := catalog.NewService(items, cfg.AdminID, catalogOpts...)

	a := &App{Catalog: svc}

	// late replies go to the reconcile queue when one is configured,
	// otherwise they are reconciled in this process
	orphans := func(ctx context.Context, r ledger.Reply) {
		if err := a.Coordinator.Reconcile(ctx, r); err != nil {
			log.Printf("[app] reconcile tx=%d: %v", r.TransactionID, err)
		}
	}
	if cfg.ReconcileQueueURL != "" {
		forward := aws.NewPublisher(clients.SQS, cfg.ReconcileQueueURL)
		orphans = func(ctx context.Context, r ledger.Reply) {
			attrs := map[string]string{"transaction_id": strconv.FormatUint(r.TransactionID, 10)}
			if err := forward.SendJSON(ctx, r, attrs); err != nil {
				log.Printf("[app] forward orphan reply tx=%d: %v", r.TransactionID, err)
			}
		}
	}
	a.Ledger = ledger.NewSQSClient(clients.SQS, cfg.LedgerRequestQueueURL, cfg.LedgerReplyQueueURL,
		ledger.WithOrphanHandler(orphans),
		ledger.WithReleaseWindow(cfg.TransferTimeout))

	a.Coordinator = purchase.New(purchase.Deps{
		Catalog:  svc,
		Pending:  pend,
		Sequence: seq,
		Owners:   owners,
		Ledger:   a.Ledger,
		Account:  cfg.StoreAccountID,
	},
		purchase.WithTransferTimeout(cfg.TransferTimeout),
		purchase.WithAttemptLog(attempts),
		purchase.WithRecorder(aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace)),
	)
	return a, nil
}
