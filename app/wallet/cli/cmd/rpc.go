package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ardanlabs/ledger/app/services/node/handlers/v1/rpcgrp"
)

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcgrp.Error   `json:"error"`
}

var client = http.Client{Timeout: 10 * time.Second}

// call invokes a JSON-RPC method on the node and decodes the result.
func call(method string, params any, result any) error {
	req := rpcgrp.Request{
		JSONRPC: rpcgrp.Version,
		ID:      json.RawMessage("1"),
		Method:  method,
	}

	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = data
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("decode response: status[%d]: %w", resp.StatusCode, err)
	}

	if rr.Error != nil {
		if rr.Error.Data != nil {
			return fmt.Errorf("%s: %v", rr.Error.Message, rr.Error.Data)
		}
		return rr.Error
	}

	return json.Unmarshal(rr.Result, result)
}
