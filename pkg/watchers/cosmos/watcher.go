package cosmos

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/crossgate/crossgate/pkg/common"
	"github.com/crossgate/crossgate/pkg/readiness"
	"github.com/crossgate/crossgate/pkg/supervisor"
	"github.com/crossgate/crossgate/pkg/transfer"
	"github.com/crossgate/crossgate/pkg/watchtower"
)

// ReadLimitSize raises the websocket read limit; tendermint tx events are
// larger than the 32KiB default.
const ReadLimitSize = 524288

const latestBlockURL = "cosmos/base/tendermint/v1beta1/blocks/latest"

var (
	connectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_cosmos_connection_errors_total",
			Help: "Total number of connection errors on a cosmos chain",
		}, []string{"network", "reason"})
	approvalsConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_cosmos_approvals_confirmed_total",
			Help: "Total number of withdraw approvals observed on a cosmos chain",
		}, []string{"network"})
	currentCosmosHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossgate_cosmos_current_height",
			Help: "Latest block height observed on a cosmos chain",
		}, []string{"network"})
)

type clientRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  [1]string `json:"params"`
	ID      uint64    `json:"id"`
}

// Watcher subscribes to the bridge contract's transactions over the
// tendermint websocket and forwards withdraw approvals to the watchtower.
type Watcher struct {
	networkName string
	urlWS       string
	urlLCD      string
	contract    string
	chainID     transfer.ChainID

	approvalC chan<- *watchtower.Approval

	readiness          *readiness.Registry
	readinessComponent readiness.Component

	// b64Encoded indicates whether event attributes are base64 encoded.
	b64Encoded bool
}

func NewWatcher(
	networkName string,
	urlWS string,
	urlLCD string,
	contract string,
	chainID transfer.ChainID,
	approvalC chan<- *watchtower.Approval,
	reg *readiness.Registry,
	component readiness.Component,
	b64Encoded bool,
) *Watcher {
	return &Watcher{
		networkName:        networkName,
		urlWS:              urlWS,
		urlLCD:             urlLCD,
		contract:           contract,
		chainID:            chainID,
		approvalC:          approvalC,
		readiness:          reg,
		readinessComponent: component,
		b64Encoded:         b64Encoded,
	}
}

func (e *Watcher) Run(ctx context.Context) error {
	logger := supervisor.Logger(ctx)
	errC := make(chan error)

	logger.Info("starting cosmos watcher",
		zap.String("network", e.networkName),
		zap.String("urlWS", e.urlWS),
		zap.String("urlLCD", e.urlLCD),
		zap.String("contract", e.contract),
	)

	c, _, err := websocket.Dial(ctx, e.urlWS, nil)
	if err != nil {
		connectionErrors.WithLabelValues(e.networkName, "websocket_dial_error").Inc()
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")
	c.SetReadLimit(ReadLimitSize)

	// Subscribe to bridge contract transactions.
	params := [...]string{fmt.Sprintf("tm.event='Tx' AND execute._contract_address='%s'", e.contract)}
	command := &clientRequest{
		JSONRPC: "2.0",
		Method:  "subscribe",
		Params:  params,
		ID:      1,
	}
	if err := wsjson.Write(ctx, c, command); err != nil {
		connectionErrors.WithLabelValues(e.networkName, "websocket_subscription_error").Inc()
		return fmt.Errorf("websocket subscription failed: %w", err)
	}

	// Wait for the subscription confirmation.
	if _, _, err := c.Read(ctx); err != nil {
		connectionErrors.WithLabelValues(e.networkName, "event_subscription_error").Inc()
		return fmt.Errorf("event subscription failed: %w", err)
	}
	logger.Info("subscribed to new transaction events", zap.String("network", e.networkName))

	e.readiness.SetReady(e.readinessComponent)
	supervisor.Signal(ctx, supervisor.SignalHealthy)

	common.RunWithScissors(ctx, errC, "cosmos_block_height", func(ctx context.Context) error {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		client := &http.Client{Timeout: 5 * time.Second}

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				height, err := e.queryLatestHeight(ctx, client)
				if err != nil {
					logger.Error("latest block query failed", zap.String("network", e.networkName), zap.Error(err))
					connectionErrors.WithLabelValues(e.networkName, "block_height_error").Inc()
					continue
				}
				currentCosmosHeight.WithLabelValues(e.networkName).Set(float64(height))
				logger.Debug("current height", zap.String("network", e.networkName), zap.Int64("block", height))
			}
		}
	})

	common.RunWithScissors(ctx, errC, "cosmos_data_pump", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
				_, message, err := c.Read(ctx)
				if err != nil {
					connectionErrors.WithLabelValues(e.networkName, "channel_read_error").Inc()
					logger.Error("websocket read failed", zap.String("network", e.networkName), zap.Error(err))
					errC <- err
					return nil
				}

				json := string(message)

				txHashRaw := gjson.Get(json, "result.events.tx\\.hash.0")
				if !txHashRaw.Exists() {
					logger.Warn("message does not have tx hash", zap.String("network", e.networkName), zap.String("payload", json))
					continue
				}
				events := gjson.Get(json, "result.data.value.TxResult.result.events")
				if !events.Exists() {
					logger.Warn("message has no events", zap.String("network", e.networkName), zap.String("payload", json))
					continue
				}

				approvals := EventsToApprovals(e.contract, txHashRaw.String(), events.Array(), logger, e.chainID, e.b64Encoded)
				for _, a := range approvals {
					approvalsConfirmed.WithLabelValues(e.networkName).Inc()
					select {
					case e.approvalC <- a:
					case <-ctx.Done():
						return nil
					}
				}
			}
		}
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errC:
		return err
	}
}

func (e *Watcher) queryLatestHeight(ctx context.Context, client *http.Client) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", e.urlLCD, latestBlockURL), nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	return gjson.Get(string(body), "block.header.height").Int(), nil
}
