// Package execution orchestrates the order-execution state machine:
// sizing, entry placement, fill confirmation, conditional order
// attachment and trade persistence.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/perpdesk/perpdesk/internal/alerting"
	"github.com/perpdesk/perpdesk/internal/exchange"
	"github.com/perpdesk/perpdesk/internal/metrics"
	"github.com/perpdesk/perpdesk/internal/risk"
	"github.com/perpdesk/perpdesk/internal/types"
)

// ContractLookup resolves an instrument's contract value from the
// metadata cache.
type ContractLookup interface {
	Lookup(ctx context.Context, instrument string) (decimal.Decimal, error)
}

// TradeWriter persists trade records.
type TradeWriter interface {
	WriteTrade(ctx context.Context, rec *types.TradeRecord) error
}

// Config holds engine settings.
type Config struct {
	Leverage         int
	RiskFraction     decimal.Decimal
	MarginMode       string
	FillTimeout      time.Duration
	FillPollInterval time.Duration
	Location         *time.Location
}

// Engine runs one order request through the execution state machine.
// It does not serialize concurrent requests for the same instrument;
// if that is needed it belongs to an external admission layer.
type Engine struct {
	cfg      Config
	exchange exchange.Exchange
	metadata ContractLookup
	sizer    *risk.PositionSizer
	writer   TradeWriter
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewEngine creates an execution engine.
func NewEngine(
	cfg Config,
	ex exchange.Exchange,
	metadata ContractLookup,
	writer TradeWriter,
	alerter alerting.Alerter,
	logger *slog.Logger,
) *Engine {
	if cfg.FillTimeout == 0 {
		cfg.FillTimeout = 10 * time.Second
	}
	if cfg.FillPollInterval == 0 {
		cfg.FillPollInterval = 250 * time.Millisecond
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if alerter == nil {
		alerter = alerting.NewConsoleAlerter(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:      cfg,
		exchange: ex,
		metadata: metadata,
		sizer:    risk.NewPositionSizer(),
		writer:   writer,
		alerter:  alerter,
		recorder: metrics.NewRecorder(),
		logger:   logger,
	}
}

// Execute runs one order request to completion. Sizing and metadata
// failures abort before any order is placed. Once the entry order is
// live, conditional-order and persistence failures are reported but
// never cancel it: an unprotected live position is surfaced loudly, a
// silently cancelled order is the outcome this engine refuses to
// produce.
//
// On post-entry failures the returned TradeRecord is non-nil alongside
// the error, reflecting what is actually live on the exchange.
func (e *Engine) Execute(ctx context.Context, req types.OrderRequest) (*types.TradeRecord, error) {
	logger := e.logger.With(
		"instrument", req.Instrument,
		"side", req.Side.String(),
		"type", req.Type.String(),
	)

	// Sizing
	start := time.Now()
	size, balance, err := e.size(ctx, req)
	if err != nil {
		e.recorder.RecordFailure(req.Instrument, StageSizing.String())
		return nil, failedAt(StageSizing, err)
	}
	e.recorder.RecordStageDuration(StageSizing.String(), time.Since(start))
	logger.Info("position sized", "size", size, "balance", balance)

	// EntryPlaced
	start = time.Now()
	ack, err := e.exchange.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Instrument:    req.Instrument,
		MarginMode:    e.cfg.MarginMode,
		Side:          req.Side,
		Type:          req.Type,
		Size:          size,
		LimitPrice:    req.LimitPrice,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		e.recorder.RecordFailure(req.Instrument, StageEntryPlaced.String())
		return nil, failedAt(StageEntryPlaced, err)
	}
	e.recorder.RecordOrder(req.Instrument, req.Side.String(), req.Type.String())
	e.recorder.RecordStageDuration(StageEntryPlaced.String(), time.Since(start))
	logger.Info("entry order placed", "order_id", ack.OrderID)

	// FillConfirmed
	start = time.Now()
	enterPrice, filled, err := e.confirmFill(ctx, req, ack.OrderID)
	if err != nil {
		// The entry order is live but its fill state is unknown;
		// manual reconciliation is required.
		e.recorder.RecordFailure(req.Instrument, StageFillConfirmed.String())
		e.alert(ctx, alerting.SeverityCritical, "entry order fill unconfirmed",
			"instrument", req.Instrument, "order_id", ack.OrderID)
		return nil, failedAt(StageFillConfirmed, err)
	}
	e.recorder.RecordStageDuration(StageFillConfirmed.String(), time.Since(start))

	rec := &types.TradeRecord{
		OrderID:         ack.OrderID,
		OrderType:       req.Type.String(),
		Status:          filled,
		OrderVolume:     size,
		Balance:         balance,
		Instrument:      req.Instrument,
		Timeframe:       req.Timeframe,
		Leverage:        e.cfg.Leverage,
		Side:            req.Side,
		EnterPrice:      enterPrice,
		OpenTime:        ack.OutTime.In(e.cfg.Location),
		StopLossPrice:   req.StopLossPrice,
		TakeProfitPrice: req.TakeProfitPrice,
	}

	// StopLossAttached / TakeProfitAttached. Each conditional order may
	// fail independently without rolling back the live entry order.
	var failure *StageError

	rec.StopLossID, err = e.attachAlgo(ctx, req, size, req.StopLossPrice, false)
	if err != nil {
		failure = failedAt(StageStopLossAttached, err)
		e.reportUnprotected(ctx, req, ack.OrderID, "stop-loss", err)
	}

	if req.HasTakeProfit() {
		rec.TakeProfitID, err = e.attachAlgo(ctx, req, size, req.TakeProfitPrice, true)
		if err != nil {
			if failure == nil {
				failure = failedAt(StageTakeProfitAttached, err)
			}
			e.reportUnprotected(ctx, req, ack.OrderID, "take-profit", err)
		}
	}

	// Persisted. Losing the record of a live position is operationally
	// unacceptable, so one synchronous retry before escalating.
	start = time.Now()
	if err := e.persist(ctx, rec); err != nil {
		e.recorder.RecordFailure(req.Instrument, StagePersisted.String())
		e.alert(ctx, alerting.SeverityCritical, "trade record persistence failed",
			"instrument", req.Instrument, "order_id", ack.OrderID, "err", err)
		perr := failedAt(StagePersisted, err)
		if failure != nil {
			return rec, errors.Join(failure, perr)
		}
		return rec, perr
	}
	e.recorder.RecordStageDuration(StagePersisted.String(), time.Since(start))
	logger.Info("trade record persisted", "order_id", ack.OrderID)

	if failure != nil {
		return rec, failure
	}
	return rec, nil
}

// size runs the sizing stage: live balance, leverage setup, contract
// metadata and the risk formula. No order is placed here, so every
// failure is side-effect free.
func (e *Engine) size(ctx context.Context, req types.OrderRequest) (size, balance decimal.Decimal, err error) {
	if !req.HasStopLoss() {
		return decimal.Zero, decimal.Zero, types.ErrMissingStopLoss
	}

	balance, err = e.exchange.GetBalance(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fetch balance: %w", err)
	}

	// Always issued; the exchange treats a repeated value as a no-op.
	if err := e.exchange.SetLeverage(ctx, req.Instrument, e.cfg.Leverage, e.cfg.MarginMode); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("set leverage: %w", err)
	}

	contractValue, err := e.metadata.Lookup(ctx, req.Instrument)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	reference, err := e.referencePrice(ctx, req)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	size, err = e.sizer.Size(balance, e.cfg.Leverage, e.cfg.RiskFraction,
		risk.StopDistance(reference, req.StopLossPrice))
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	e.logger.Debug("sizing inputs",
		"instrument", req.Instrument,
		"contract_value", contractValue,
		"reference_price", reference,
	)
	return size, balance, nil
}

// referencePrice returns the price the stop distance is measured from:
// the limit price for limit orders, the last traded price otherwise.
func (e *Engine) referencePrice(ctx context.Context, req types.OrderRequest) (decimal.Decimal, error) {
	if req.Type == types.OrderTypeLimit {
		if !req.LimitPrice.IsPositive() {
			return decimal.Zero, fmt.Errorf("limit order without a limit price")
		}
		return req.LimitPrice, nil
	}
	last, err := e.exchange.GetTicker(ctx, req.Instrument)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch ticker: %w", err)
	}
	return last, nil
}

// confirmFill resolves the enter price. Market orders are polled until
// the exchange reports a realized average fill price, bounded by the
// fill timeout. Limit orders use the requested price without polling
// since the fill is not yet guaranteed; their record starts unfilled.
func (e *Engine) confirmFill(ctx context.Context, req types.OrderRequest, orderID string) (decimal.Decimal, bool, error) {
	if req.Type == types.OrderTypeLimit {
		return req.LimitPrice, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FillTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.FillPollInterval)
	defer ticker.Stop()

	for {
		detail, err := e.exchange.GetOrder(ctx, req.Instrument, orderID)
		if err == nil && detail.AvgFillPrice.IsPositive() {
			return detail.AvgFillPrice, true, nil
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("fill poll failed", "order_id", orderID, "err", err)
		}

		select {
		case <-ctx.Done():
			return decimal.Zero, false, types.ErrUnconfirmedFill
		case <-ticker.C:
		}
	}
}

// attachAlgo places one conditional order. A zero trigger price means
// the order is not configured and is skipped without error.
func (e *Engine) attachAlgo(ctx context.Context, req types.OrderRequest, size, trigger decimal.Decimal, takeProfit bool) (string, error) {
	if !trigger.IsPositive() {
		return "", nil
	}

	id, err := e.exchange.PlaceAlgoOrder(ctx, exchange.AlgoOrderRequest{
		Instrument:   req.Instrument,
		MarginMode:   e.cfg.MarginMode,
		Side:         req.Side,
		Size:         size,
		TriggerPrice: trigger,
		TakeProfit:   takeProfit,
	})
	if err != nil {
		return "", err
	}

	kind := "stop_loss"
	if takeProfit {
		kind = "take_profit"
	}
	e.recorder.RecordAlgoOrder(req.Instrument, kind)
	return id, nil
}

func (e *Engine) persist(ctx context.Context, rec *types.TradeRecord) error {
	err := e.writer.WriteTrade(ctx, rec)
	if err == nil {
		return nil
	}
	e.logger.Warn("trade record write failed, retrying", "order_id", rec.OrderID, "err", err)
	return e.writer.WriteTrade(ctx, rec)
}

func (e *Engine) reportUnprotected(ctx context.Context, req types.OrderRequest, orderID, kind string, err error) {
	stage := StageStopLossAttached
	if kind == "take-profit" {
		stage = StageTakeProfitAttached
	}
	e.recorder.RecordFailure(req.Instrument, stage.String())
	e.recorder.RecordUnprotectedPosition(req.Instrument)
	e.alert(ctx, alerting.SeverityHigh,
		fmt.Sprintf("live position unprotected: %s placement failed", kind),
		"instrument", req.Instrument,
		"order_id", orderID,
		"err", err,
	)
}

func (e *Engine) alert(ctx context.Context, severity alerting.Severity, message string, fields ...any) {
	if err := e.alerter.Alert(ctx, severity, message, fields...); err != nil {
		e.logger.Error("alert delivery failed", "message", message, "err", err)
	}
}
