package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-attribute-store/internal/aws"
)

// OrphanHandler receives replies nobody is waiting for (late or duplicate).
type OrphanHandler func(ctx context.Context, r Reply)

// SQSClient talks to the ledger over a request queue and a reply queue.
// Run must be running for Transfer to observe replies.
type SQSClient struct {
	sqs           aws.SQSAPI
	requests      *aws.Publisher
	replyQueueURL string
	waitSeconds   int32
	retryDelay    time.Duration
	onOrphan      OrphanHandler
	releaseWindow time.Duration
	nowFunc       func() time.Time

	mu      sync.Mutex
	waiters map[uint64][]chan Reply
}

type Option func(*SQSClient)

// WithOrphanHandler sets the handler for uncorrelated replies.
func WithOrphanHandler(h OrphanHandler) Option {
	return func(c *SQSClient) { c.onOrphan = h }
}

// WithWaitSeconds overrides the long-poll wait (default 20s).
func WithWaitSeconds(s int32) Option {
	return func(c *SQSClient) {
		if s >= 0 {
			c.waitSeconds = s
		}
	}
}

// WithRetryDelay sets the pause after a failed receive.
func WithRetryDelay(d time.Duration) Option {
	return func(c *SQSClient) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithReleaseWindow makes the client hand back, instead of orphaning, an
// uncorrelated reply sent less than d ago: on a reply queue shared by
// several instances the waiter may live elsewhere. d should be the
// transfer timeout, after which no instance can still be waiting.
func WithReleaseWindow(d time.Duration) Option {
	return func(c *SQSClient) {
		if d > 0 {
			c.releaseWindow = d
		}
	}
}

// releaseVisibility hides a released reply briefly so this instance does
// not immediately receive it again.
const releaseVisibility = 1 // seconds

func NewSQSClient(client aws.SQSAPI, requestQueueURL, replyQueueURL string, opts ...Option) *SQSClient {
	c := &SQSClient{
		sqs:           client,
		requests:      aws.NewPublisher(client, requestQueueURL),
		replyQueueURL: replyQueueURL,
		waitSeconds:   20,
		retryDelay:    time.Second,
		nowFunc:       time.Now,
		waiters:       map[uint64][]chan Reply{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transfer sends the request and waits for the reply carrying the same transaction id.
func (c *SQSClient) Transfer(ctx context.Context, req TransferRequest) Result {
	ch := c.register(req.TransactionID)
	defer c.unregister(req.TransactionID, ch)

	msg := message{
		TransactionID: req.TransactionID,
		Action:        actionTransfer,
		Sender:        req.From,
		Recipient:     req.To,
		Amount:        req.Amount,
		ReplyTo:       c.replyQueueURL,
	}
	attrs := map[string]string{
		"transaction_id": strconv.FormatUint(req.TransactionID, 10),
		"correlation_id": uuid.NewString(),
	}
	if err := c.requests.SendJSON(ctx, msg, attrs); err != nil {
		log.Printf("[ledger] send transfer tx=%d: %v", req.TransactionID, err)
		return Unresolved
	}

	select {
	case r := <-ch:
		return r.Result()
	case <-ctx.Done():
		log.Printf("[ledger] no reply for tx=%d: %v", req.TransactionID, ctx.Err())
		return Unresolved
	}
}

// Run long-polls the reply queue until ctx is cancelled.
func (c *SQSClient) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		out, err := c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &c.replyQueueURL,
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     c.waitSeconds,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameSentTimestamp,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[ledger] receive replies: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}
		for _, m := range out.Messages {
			c.handle(ctx, m)
		}
	}
}

func (c *SQSClient) handle(ctx context.Context, m sqstypes.Message) {
	body := ""
	if m.Body != nil {
		body = *m.Body
	}
	r, err := DecodeReply(body)
	switch {
	case err != nil:
		// an uncorrelatable reply can never be delivered; drop it
		log.Printf("[ledger] dropping reply: %v, body: %s", err, body)
	case c.deliver(r):
	case c.releasable(m):
		c.release(ctx, m, r)
		return
	default:
		c.orphan(ctx, r)
	}
	c.delete(ctx, m)
}

// releasable reports whether m is young enough that another instance may
// still be waiting for it.
func (c *SQSClient) releasable(m sqstypes.Message) bool {
	if c.releaseWindow <= 0 || m.ReceiptHandle == nil {
		return false
	}
	ms, err := strconv.ParseInt(m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)], 10, 64)
	if err != nil {
		// no timestamp; keep the old orphan behaviour
		return false
	}
	return c.nowFunc().Sub(time.UnixMilli(ms)) < c.releaseWindow
}

func (c *SQSClient) release(ctx context.Context, m sqstypes.Message, r Reply) {
	log.Printf("[ledger] no local waiter for tx=%d, releasing reply", r.TransactionID)
	if _, err := c.sqs.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &c.replyQueueURL,
		ReceiptHandle:     m.ReceiptHandle,
		VisibilityTimeout: releaseVisibility,
	}); err != nil {
		log.Printf("[ledger] release reply tx=%d: %v", r.TransactionID, err)
	}
}

func (c *SQSClient) delete(ctx context.Context, m sqstypes.Message) {
	if m.ReceiptHandle == nil {
		return
	}
	if _, err := c.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.replyQueueURL,
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		log.Printf("[ledger] delete reply: %v", err)
	}
}

var errMalformedReply = errors.New("malformed reply")

// Dispatch decodes one reply body and hands it to its waiters, or to the
// orphan handler when none are registered.
func (c *SQSClient) Dispatch(ctx context.Context, body string) error {
	r, err := DecodeReply(body)
	if err != nil {
		return err
	}
	if !c.deliver(r) {
		c.orphan(ctx, r)
	}
	return nil
}

// deliver hands r to its local waiters and reports whether there were any.
func (c *SQSClient) deliver(r Reply) bool {
	c.mu.Lock()
	waiters := c.waiters[r.TransactionID]
	delete(c.waiters, r.TransactionID)
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- r
	}
	return len(waiters) > 0
}

func (c *SQSClient) orphan(ctx context.Context, r Reply) {
	log.Printf("[ledger] orphan reply tx=%d status=%s", r.TransactionID, r.Status)
	if c.onOrphan != nil {
		c.onOrphan(ctx, r)
	}
}

// DecodeReply parses a reply body; the transaction id is mandatory.
func DecodeReply(body string) (Reply, error) {
	var raw struct {
		TransactionID *uint64 `json:"transaction_id"`
		Status        string  `json:"status"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", errMalformedReply, err)
	}
	if raw.TransactionID == nil {
		return Reply{}, fmt.Errorf("%w: missing transaction_id", errMalformedReply)
	}
	return Reply{TransactionID: *raw.TransactionID, Status: raw.Status}, nil
}

func (c *SQSClient) register(tx uint64) chan Reply {
	ch := make(chan Reply, 1)
	c.mu.Lock()
	c.waiters[tx] = append(c.waiters[tx], ch)
	c.mu.Unlock()
	return ch
}

func (c *SQSClient) unregister(tx uint64, ch chan Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws := c.waiters[tx]
	for i, w := range ws {
		if w == ch {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(c.waiters, tx)
	} else {
		c.waiters[tx] = ws
	}
}

// Pending reports how many transfers are awaiting a reply.
func (c *SQSClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ws := range c.waiters {
		n += len(ws)
	}
	return n
}
