package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hypersim/hookengine"
	"github.com/hypersim/hookengine/pkg/builtin"
	"github.com/hypersim/hookengine/pkg/config"
	"github.com/hypersim/hookengine/pkg/types"
)

// Base and per-byte calldata gas of the local simulator.
const (
	baseGas     = 21000
	calldataGas = 16
)

// localSimulator answers simulations in process. A non-empty revert makes
// every call fail with that reason.
type localSimulator struct {
	revert string
	calls  atomic.Int64
}

func (s *localSimulator) Simulate(ctx context.Context, tx *types.TransactionRequest) (*types.SimulationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.calls.Add(1)
	if s.revert != "" {
		return nil, fmt.Errorf("execution reverted: %s", s.revert)
	}

	data := strings.TrimPrefix(tx.Data, "0x")
	return &types.SimulationResult{
		Success:        true,
		GasUsed:        strconv.Itoa(baseGas + calldataGas*len(data)/2),
		ReturnData:     "0x",
		EstimatedBlock: n,
	}, nil
}

// simulationReport is printed once per simulation.
type simulationReport struct {
	Run       int                     `json:"run"`
	RequestID string                  `json:"requestId"`
	Result    *types.SimulationResult `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// runSummary is printed after the last simulation when --metrics is set.
type runSummary struct {
	SimulatorCalls int64                      `json:"simulatorCalls"`
	Cache          builtin.CacheStats         `json:"cache"`
	Performance    builtin.PerformanceMetrics `json:"performance"`
	Dispatch       map[string]any             `json:"dispatch"`
}

type simulateOptions struct {
	tx      types.TransactionRequest
	repeat  int
	revert  string
	metrics bool
}

func newSimulateCmd(o *rootOptions) *cobra.Command {
	var so simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a transaction through the plugin pipeline",
		Long: `Simulate a transaction with an in-process simulator. The call runs through
every configured plugin: rate limiting, logging, caching, metrics and retry.
Repeating the same transaction shows the cache answering later runs. A
failing simulation is retried for as long as the retry plugin allows.`,
		Example: `  hookengine simulate --from 0xA --to 0xB --repeat 3 --metrics
  hookengine simulate --from 0xA --revert "insufficient balance"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd, o.cfg, so)
		},
	}

	f := cmd.Flags()
	f.StringVar(&so.tx.From, "from", "", "sender address")
	f.StringVar(&so.tx.To, "to", "", "recipient address")
	f.StringVar(&so.tx.Value, "value", "0", "value in wei")
	f.StringVar(&so.tx.Data, "data", "", "hex calldata")
	f.IntVar(&so.repeat, "repeat", 1, "number of times to simulate the transaction")
	f.StringVar(&so.revert, "revert", "", "make the simulator fail with this reason")
	f.BoolVar(&so.metrics, "metrics", false, "print a metrics summary after the last run")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func runSimulate(cmd *cobra.Command, cfg *config.Config, so simulateOptions) error {
	if so.repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1, got %d", so.repeat)
	}
	ctx := cmd.Context()

	sim := &localSimulator{revert: so.revert}
	sess, err := newSession(ctx, cfg, hookengine.WithSimulator(sim))
	if err != nil {
		return err
	}
	defer sess.close(ctx)
	client := sess.client

	enc := json.NewEncoder(cmd.OutOrStdout())
	var failed error
	for run := 1; run <= so.repeat; run++ {
		requestID := fmt.Sprintf("cli-%d", run)
		tx := so.tx

		result, err := simulateWithRetry(ctx, client, &tx, requestID)
		report := simulationReport{Run: run, RequestID: requestID, Result: result}
		if err != nil {
			report.Error = err.Error()
			failed = errors.Join(failed, err)
		}
		if err := enc.Encode(report); err != nil {
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}

	if so.metrics {
		summary := runSummary{
			SimulatorCalls: sim.calls.Load(),
			Cache:          sess.plugins.Caching.CacheStats(),
			Performance:    sess.plugins.Metrics.GetMetrics(),
			Dispatch:       sess.collector.ExportMetrics(),
		}
		if err := enc.Encode(summary); err != nil {
			return err
		}
	}
	return failed
}

// simulateWithRetry repeats a failed simulation for as long as the ON_ERROR
// handlers ask for it, waiting the delay they chose.
func simulateWithRetry(ctx context.Context, client *hookengine.Client, tx *types.TransactionRequest, requestID string) (*types.SimulationResult, error) {
	opts := []hookengine.CallOption{hookengine.WithRequestID(requestID)}
	for {
		result, err := client.Simulate(ctx, tx, opts...)

		var opErr *hookengine.OperationError
		if err == nil || !errors.As(err, &opErr) || !opErr.ShouldRetry {
			return result, err
		}

		log.Warn().
			Err(opErr.Err).
			Str("request_id", requestID).
			Int("attempt", opErr.Attempt).
			Dur("delay", opErr.RetryDelay).
			Msg("retrying simulation")

		timer := time.NewTimer(opErr.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		opts = []hookengine.CallOption{
			hookengine.WithRequestID(requestID),
			hookengine.WithMetadata(builtin.KeyRetryAttempt, opErr.Attempt),
		}
	}
}
