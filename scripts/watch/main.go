// Command watch follows a running ledger and prints the items for sale each
// time they change. With -account it also shows that account's balance and
// marks its own listings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chainlist-backend/client"
	"chainlist-backend/pkg/logging"
	"chainlist-backend/viewsync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const activityLines = 5

func main() {
	addr := flag.String("addr", "http://localhost:8080", "ledger base URL")
	account := flag.String("account", "", "account to view as (optional)")
	decimals := flag.Int("decimals", 0, "decimal places of one base unit when printing amounts")
	retry := flag.Duration("retry", 3*time.Second, "delay before resubscribing after the stream is lost; 0 exits instead")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := logging.New("development", *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := printer{out: os.Stdout, decimals: int32(*decimals), account: *account}
	var watcher *viewsync.Synchronizer
	watcher = viewsync.New(
		viewsync.Remote(client.New(*addr, client.WithLogger(logger.Named("client")))),
		*account,
		viewsync.WithLogger(logger.Named("viewsync")),
		viewsync.WithFeedSize(activityLines),
		viewsync.WithOnChange(func(proj viewsync.Projection) { p.print(proj, watcher.Activity()) }),
		viewsync.WithOnError(func(err error) { p.stale(err) }),
	)

	for {
		err := watcher.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, viewsync.ErrStreamLost) || *retry <= 0 {
			logger.Fatal("watch stopped", zap.Error(err))
		}
		logger.Warn("stream lost, resubscribing", zap.Error(err), zap.Duration("after", *retry))
		select {
		case <-ctx.Done():
			return
		case <-time.After(*retry):
		}
	}
}

type printer struct {
	out      io.Writer
	decimals int32
	account  string
}

// amount renders a base-unit integer with the configured number of decimals.
func (p printer) amount(v int64) string {
	return decimal.New(v, -p.decimals).StringFixed(p.decimals)
}

func (p printer) stale(err error) {
	fmt.Fprintf(p.out, "\n!! view may be stale: %v\n", err)
}

func (p printer) print(proj viewsync.Projection, activity []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n== %s ==\n", proj.RefreshedAt.Format(time.RFC3339))
	if p.account != "" {
		fmt.Fprintf(&b, "%s balance: %s\n", p.account, p.amount(proj.Balance))
	}
	if len(proj.Rows) == 0 {
		b.WriteString("nothing for sale\n")
	}
	for _, row := range proj.Rows {
		mark := " "
		if row.Own {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s #%-4d %-24s %12s  by %s\n", mark, row.ID, row.Name, p.amount(row.Price), row.Seller)
	}
	for _, line := range activity {
		fmt.Fprintf(&b, "  - %s\n", line)
	}
	_, _ = io.WriteString(p.out, b.String())
}
