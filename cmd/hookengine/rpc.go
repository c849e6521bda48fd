package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypersim/hookengine"
	"github.com/hypersim/hookengine/internal/network"
	"github.com/hypersim/hookengine/pkg/types"
)

// rpcReport is the output of the rpc command.
type rpcReport struct {
	Endpoint string          `json:"endpoint"`
	Network  string          `json:"network"`
	Method   string          `json:"method"`
	Result   json.RawMessage `json:"result"`
	Latency  time.Duration   `json:"latency"`
}

func newRPCCmd(o *rootOptions) *cobra.Command {
	var (
		endpoint string
		method   string
		params   string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "rpc",
		Short: "Call a JSON-RPC method on a node through the plugin pipeline",
		Long: `Connect to a node, call one JSON-RPC method and disconnect. The connect,
request and disconnect steps dispatch ON_CONNECT, BEFORE_REQUEST,
AFTER_RESPONSE and ON_DISCONNECT to the configured plugins.`,
		Example: `  hookengine rpc --endpoint http://localhost:8545 --method eth_blockNumber
  hookengine rpc --endpoint http://localhost:8545 --method eth_getBalance --params '["0xA","latest"]'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var args []any
			if params != "" {
				if err := json.Unmarshal([]byte(params), &args); err != nil {
					return fmt.Errorf("--params must be a JSON array: %w", err)
				}
			}

			ctx := cmd.Context()
			transport := network.NewRPCTransport(nil, timeout)
			defer transport.Pool().Close()

			s, err := newSession(ctx, o.cfg,
				hookengine.WithTransport(transport),
				hookengine.WithConnector(network.NewRPCConnector(transport)),
			)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			conn, err := s.client.Connect(ctx, endpoint)
			if err != nil {
				return err
			}
			defer func() { _ = s.client.Disconnect(ctx, conn) }()

			resp, err := s.client.Request(ctx, &types.Request{Method: method, Endpoint: endpoint, Params: args})
			if err != nil {
				return err
			}

			var result json.RawMessage
			if err := network.DecodeResult(resp, &result); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rpcReport{
				Endpoint: endpoint,
				Network:  conn.Network,
				Method:   method,
				Result:   result,
				Latency:  resp.Latency,
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&endpoint, "endpoint", "", "node URL")
	f.StringVar(&method, "method", "", "JSON-RPC method")
	f.StringVar(&params, "params", "", "JSON array of parameters")
	f.DurationVar(&timeout, "timeout", network.DefaultRequestTimeout, "per-request timeout")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("method")

	return cmd
}
