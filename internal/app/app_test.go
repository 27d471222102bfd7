package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-attribute-store/internal/aws"
	"github.com/imrishuroy/go-attribute-store/internal/catalog"
	"github.com/imrishuroy/go-attribute-store/internal/config"
	"github.com/imrishuroy/go-attribute-store/internal/ledger"
	"github.com/imrishuroy/go-attribute-store/internal/testutil"
)

func memoryConfig() config.Config {
	return config.Config{
		AdminID:               "admin",
		StoreAccountID:        "store",
		LedgerRequestQueueURL: "https://sqs/requests",
		LedgerReplyQueueURL:   "https://sqs/replies",
		Storage:               config.StorageMemory,
		MetricsNamespace:      "Test",
	}
}

func TestNew_RequiresLedgerQueues(t *testing.T) {
	cfg := memoryConfig()
	cfg.LedgerReplyQueueURL = ""
	_, err := New(cfg, &aws.AWSClients{})
	require.Error(t, err)
}

func TestNew_OrphanReplyReconciledInProcess(t *testing.T) {
	cfg := memoryConfig()
	cfg.TransferTimeout = 20 * time.Millisecond
	sqsMock := testutil.NewSQS()
	a, err := New(cfg, &aws.AWSClients{SQS: sqsMock, CloudWatch: testutil.NoopCloudWatch{}})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Catalog.CreateItem(ctx, "admin", catalog.Item{ID: 4, Price: 9})
	require.NoError(t, err)

	// nobody drives the reply queue, so the transfer times out
	out, err := a.Coordinator.Purchase(ctx, "b", 4)
	require.NoError(t, err)
	require.Equal(t, ledger.Unresolved, out.Result)
	require.Len(t, sqsMock.Sent("https://sqs/requests"), 1)

	// the late confirmation has no waiter and is reconciled here
	require.NoError(t, a.Ledger.Dispatch(ctx, `{"transaction_id":0,"status":"ok"}`))

	owned, err := a.Coordinator.Owned(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []uint32{4}, owned)
	attempts, _ := a.Coordinator.Attempts(ctx)
	assert.Empty(t, attempts)
}

func TestNew_OrphanReplyForwardedToReconcileQueue(t *testing.T) {
	sqsMock := testutil.NewSQS()
	cfg := memoryConfig()
	cfg.ReconcileQueueURL = "https://sqs/reconcile"
	a, err := New(cfg, &aws.AWSClients{SQS: sqsMock, CloudWatch: testutil.NoopCloudWatch{}})
	require.NoError(t, err)

	require.NoError(t, a.Ledger.Dispatch(context.Background(), `{"transaction_id":12,"status":"err"}`))

	sent := sqsMock.Sent("https://sqs/reconcile")
	require.Len(t, sent, 1)
	r, err := ledger.DecodeReply(sent[0])
	require.NoError(t, err)
	assert.Equal(t, ledger.Reply{TransactionID: 12, Status: ledger.StatusErr}, r)
}
