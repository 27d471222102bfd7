package ledger

import "context"

// Result is the outcome of one transfer request.
type Result int

const (
	// Unresolved: no reply, a malformed reply, or the wait timed out.
	Unresolved Result = iota
	Confirmed
	Rejected
)

func (r Result) String() string {
	switch r {
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	default:
		return "unresolved"
	}
}

// TransferRequest moves Amount token units From one account To another.
// TransactionID correlates the request with its reply.
type TransferRequest struct {
	TransactionID uint64
	From          string
	To            string
	Amount        uint64
}

// Client is the remote token ledger. Transfer blocks until the correlated
// reply arrives or ctx is done; it never returns an error, failures are
// folded into Rejected or Unresolved.
type Client interface {
	Transfer(ctx context.Context, req TransferRequest) Result
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req TransferRequest) Result

func (f ClientFunc) Transfer(ctx context.Context, req TransferRequest) Result {
	return f(ctx, req)
}

// Reply status values sent by the ledger.
const (
	StatusOK  = "ok"
	StatusErr = "err"
)

const actionTransfer = "transfer"

// message is the request body sent to the ledger request queue.
type message struct {
	TransactionID uint64 `json:"transaction_id"`
	Action        string `json:"action"`
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient"`
	Amount        uint64 `json:"amount"`
	ReplyTo       string `json:"reply_to,omitempty"`
}

// Reply is the ledger's response to one transfer request.
type Reply struct {
	TransactionID uint64 `json:"transaction_id"`
	Status        string `json:"status"`
}

// Result maps the reply status; anything but ok/err is Unresolved.
func (r Reply) Result() Result {
	switch r.Status {
	case StatusOK:
		return Confirmed
	case StatusErr:
		return Rejected
	default:
		return Unresolved
	}
}
