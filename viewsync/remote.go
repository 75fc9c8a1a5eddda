package viewsync

import (
	"context"

	"chainlist-backend/client"
)

type remoteLedger struct {
	*client.Client
}

// Remote adapts a ledger reached over HTTP.
func Remote(c *client.Client) Ledger {
	return remoteLedger{Client: c}
}

func (l remoteLedger) Balance(ctx context.Context, account string) (int64, error) {
	acct, err := l.Client.Balance(ctx, account)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (l remoteLedger) Subscribe(ctx context.Context) (Stream, error) {
	stream, err := l.Client.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
