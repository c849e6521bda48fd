// Package types holds the payload records a host passes through hook dispatches.
// The engine never inspects them; plugins type-assert the ones they understand.
package types

import (
	"fmt"
	"time"
)

// TransactionRequest describes a transaction to be simulated.
type TransactionRequest struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Nonce    *int64 `json:"nonce,omitempty"`
}

// Validate checks the fields a simulator needs.
func (r *TransactionRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("transaction request is nil")
	}
	if r.From == "" {
		return fmt.Errorf("transaction request: from address is required")
	}
	return nil
}

// SimulationResult is the outcome of a simulated transaction.
type SimulationResult struct {
	Success        bool          `json:"success"`
	GasUsed        string        `json:"gasUsed"`
	ReturnData     string        `json:"returnData,omitempty"`
	Error          string        `json:"error,omitempty"`
	RevertReason   string        `json:"revertReason,omitempty"`
	EstimatedBlock int64         `json:"estimatedBlock"`
	StateChanges   []StateChange `json:"stateChanges,omitempty"`
}

// StateChange is one storage slot touched by a simulation.
type StateChange struct {
	Address  string `json:"address"`
	Slot     string `json:"slot"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// AnalysisRequest asks an analyzer to explain a simulation.
type AnalysisRequest struct {
	Transaction *TransactionRequest `json:"transaction"`
	Result      *SimulationResult   `json:"result"`
	Focus       []string            `json:"focus,omitempty"`
}

// AnalysisResult is the analyzer's answer.
type AnalysisResult struct {
	Summary     string   `json:"summary"`
	RiskLevel   string   `json:"riskLevel"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Connection describes a connect or disconnect event.
type Connection struct {
	Endpoint    string        `json:"endpoint"`
	Network     string        `json:"network"`
	ConnectedAt time.Time     `json:"connectedAt"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Request is a generic outgoing call to a remote endpoint.
type Request struct {
	Method   string            `json:"method"`
	Endpoint string            `json:"endpoint"`
	Params   []any             `json:"params,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Response answers a Request.
type Response struct {
	StatusCode int           `json:"statusCode"`
	Body       []byte        `json:"body,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// OperationFailure is the ON_ERROR payload: the error plus the payload of the
// phase that failed.
type OperationFailure struct {
	Operation string `json:"operation"`
	Err       error  `json:"-"`
	Input     any    `json:"-"`
}

func (f *OperationFailure) Error() string {
	if f.Err == nil {
		return f.Operation + " failed"
	}
	return f.Operation + ": " + f.Err.Error()
}

func (f *OperationFailure) Unwrap() error {
	return f.Err
}
