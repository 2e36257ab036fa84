package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dogmatiq/harbor"
	"github.com/dogmatiq/harbor/buffer"
	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/correlation/cuequery"
	"github.com/dogmatiq/harbor/persistence"
	"github.com/dogmatiq/harbor/throttle"
	"github.com/dogmatiq/harbor/transaction/localtx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// demoOptions holds the flags of the "demo" command.
type demoOptions struct {
	*rootOptions

	Order        string
	Continuation string
}

// newDemoCommand returns the "demo" command.
func newDemoCommand(root *rootOptions) *cobra.Command {
	opts := &demoOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Buffer a request and replay it once its instance is ready",
		Long: `Buffer a JSON request for an order instance, then persist the instance
within a local transaction so that it reaches the continuation point the
request is waiting for. The request is replayed when the transaction commits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Order, "order", "1001", "ID of the order instance")
	cmd.Flags().StringVar(&opts.Continuation, "continuation", "approved", "name of the continuation point")

	return cmd
}

func runDemo(ctx context.Context, opts *demoOptions, out io.Writer) (err error) {
	store, err := opts.openStore(ctx)
	if err != nil {
		return err
	}

	engine := &cuequery.Engine{
		Filters: []cuequery.Filter{
			{
				Action: cuequery.AnyAction,
				Rules: correlation.RuleSet{
					Primary: correlation.QuerySet{
						{Name: "order", Expr: "order.id"},
					},
				},
			},
		},
	}

	host := harbor.New(
		harbor.WithEngine(engine),
		harbor.WithScope("demo"),
		harbor.WithStore(store),
		harbor.WithLogger(opts.logger),
		harbor.WithMetrics(prometheus.NewRegistry()),
	)

	defer func() {
		err = multierr.Append(err, host.Close(ctx))
	}()

	req := &buffer.Request{
		Channel: throttle.ChannelIDOf("demo"),
		Message: correlation.Message{
			Action: "submit",
			Body:   []byte(fmt.Sprintf(`{"order": {"id": %q}}`, opts.Order)),
		},
	}

	_, key, _, err := host.CalculateKeys(req)
	if err != nil {
		return err
	}

	if key == nil {
		return errors.New("the demo request is not correlated to an instance")
	}

	ack := &demoAck{out: out}

	ok, err := host.BufferReceive(ctx, req, ack, opts.Continuation, nil, false)
	if err != nil {
		return err
	}

	if !ok {
		return errors.New("the demo request was not accepted")
	}

	fmt.Fprintf(out, "pending requests for %s: %d\n", key, host.Pending(key))

	tx := localtx.New()

	if err := host.Persist(
		ctx,
		tx,
		key,
		func() ([]byte, []persistence.Continuation, error) {
			return []byte(opts.Order), []persistence.Continuation{
				{Name: opts.Continuation},
			}, nil
		},
	); err != nil {
		return multierr.Append(err, tx.Rollback(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "pending requests for %s: %d\n", key, host.Pending(key))

	return nil
}

// demoAck is a buffer.AckHandle that reports its events to a writer.
type demoAck struct {
	out io.Writer

	m sync.Mutex
}

func (a *demoAck) print(s string) {
	a.m.Lock()
	defer a.m.Unlock()

	fmt.Fprintln(a.out, s)
}

func (a *demoAck) DelayClose(delay bool) {
	if delay {
		a.print("close delayed")
	}
}

func (a *demoAck) Abort() {
	a.print("aborted")
}

func (a *demoAck) Abandon(context.Context) error {
	a.print("abandoned")
	return nil
}

func (a *demoAck) OnFault(func()) {}

func (a *demoAck) IsReceived() bool {
	return true
}

func (a *demoAck) RegisterForReplay() {
	a.print("registered for replay")
}

func (a *demoAck) ReplayRequest() {
	a.print("replayed")
}

func (a *demoAck) NotifyInvokeReceived() {
	a.print("instance notified")
}
