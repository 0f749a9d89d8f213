package evm

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/crossgate/crossgate/pkg/readiness"
	"github.com/crossgate/crossgate/pkg/supervisor"
	"github.com/crossgate/crossgate/pkg/watchtower"
)

var (
	currentHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossgate_evm_current_height",
			Help: "Latest block height observed on an evm chain",
		}, []string{"network"})
	approvalsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_evm_approvals_found_total",
			Help: "Total number of withdraw approval logs found on an evm chain",
		}, []string{"network"})
	pollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_evm_poll_errors_total",
			Help: "Total number of failed poll rounds on an evm chain",
		}, []string{"network"})
)

// Watcher polls one evm chain for withdraw approvals and forwards them to
// the watchtower aggregator. It is run as a supervised runnable; any RPC
// error it cannot absorb surfaces as a return and triggers a restart.
type Watcher struct {
	connector    *Connector
	approvalC    chan<- *watchtower.Approval
	pollInterval time.Duration

	readiness          *readiness.Registry
	readinessComponent readiness.Component

	// lastBlock survives restarts of the runnable so a reconnect does not
	// re-deliver the whole chain. Zero means start at the current head.
	lastBlock uint64
}

func NewWatcher(connector *Connector, approvalC chan<- *watchtower.Approval, pollInterval time.Duration, reg *readiness.Registry, component readiness.Component) *Watcher {
	return &Watcher{
		connector:          connector,
		approvalC:          approvalC,
		pollInterval:       pollInterval,
		readiness:          reg,
		readinessComponent: component,
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	logger := supervisor.Logger(ctx)
	network := w.connector.NetworkName()

	logger.Info("starting evm watcher",
		zap.String("network", network),
		zap.Duration("pollInterval", w.pollInterval),
	)

	head, err := w.connector.LatestBlock(ctx)
	if err != nil {
		pollErrors.WithLabelValues(network).Inc()
		return err
	}
	if w.lastBlock == 0 {
		w.lastBlock = head
	}
	currentHeight.WithLabelValues(network).Set(float64(head))

	w.readiness.SetReady(w.readinessComponent)
	supervisor.Signal(ctx, supervisor.SignalHealthy)

	t := time.NewTicker(w.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := w.poll(ctx, logger, network); err != nil {
				pollErrors.WithLabelValues(network).Inc()
				return err
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context, logger *zap.Logger, network string) error {
	head, err := w.connector.LatestBlock(ctx)
	if err != nil {
		return err
	}
	currentHeight.WithLabelValues(network).Set(float64(head))
	if head <= w.lastBlock {
		return nil
	}

	approvals, err := w.connector.FilterApprovals(ctx, w.lastBlock+1, head)
	if err != nil {
		return err
	}
	for _, a := range approvals {
		logger.Info("withdraw approval observed",
			zap.Stringer("digest", a.Digest),
			zap.String("txHash", a.TxHash),
		)
		approvalsFound.WithLabelValues(network).Inc()
		select {
		case w.approvalC <- a:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	w.lastBlock = head
	return nil
}
