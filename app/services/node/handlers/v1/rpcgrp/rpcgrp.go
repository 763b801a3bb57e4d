// Package rpcgrp maintains the JSON-RPC endpoint wallets submit
// transactions through.
package rpcgrp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/blockchain/txpool"
	"github.com/ardanlabs/ledger/foundation/validate"
	"github.com/ardanlabs/ledger/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of JSON-RPC methods.
type Handlers struct {
	Log  *zap.SugaredLogger
	Pool *txpool.Pool
}

// Dispatch decodes a JSON-RPC request and calls the named method. Protocol
// level failures are reported inside the JSON-RPC response.
func (h Handlers) Dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return respond(ctx, w, nil, nil, newError(CodeParseError, "parse error", err.Error()))
	}

	if req.JSONRPC != Version || req.Method == "" {
		return respond(ctx, w, req.ID, nil, newError(CodeInvalidRequest, "invalid request", nil))
	}

	h.Log.Infow("rpc", "traceid", web.GetTraceID(ctx), "method", req.Method)

	var result any
	var rerr *Error

	switch req.Method {
	case "sendTransaction":
		result, rerr = h.sendTransaction(req.Params)

	case "newAccount":
		result, rerr = h.newAccount()

	default:
		rerr = newError(CodeMethodNotFound, "method not found", req.Method)
	}

	if rerr != nil {
		h.Log.Infow("rpc", "traceid", web.GetTraceID(ctx), "method", req.Method, "ERROR", rerr.Message)
	}

	return respond(ctx, w, req.ID, result, rerr)
}

// sendTransaction validates the signed transaction and adds it to the pool.
// The result is the transaction hash.
func (h Handlers) sendTransaction(params json.RawMessage) (any, *Error) {
	tr, err := decodeTransactionRequest(params)
	if err != nil {
		return nil, newError(CodeInvalidParams, "invalid params", err.Error())
	}

	if err := validate.Check(tr); err != nil {
		if fe := validate.GetFieldErrors(err); fe != nil {
			return nil, newError(CodeInvalidParams, "invalid params", fe.Fields())
		}
		return nil, newError(CodeInvalidParams, "invalid params", err.Error())
	}

	signed, err := tr.ToSigned()
	if err != nil {
		return nil, newError(CodeInvalidParams, "invalid params", err.Error())
	}

	if err := signed.Validate(); err != nil {
		return nil, newError(CodeInvalidParams, "invalid transaction", err.Error())
	}

	tx, err := h.Pool.AddTransaction(database.NewPoolTransaction(signed))
	if err != nil {
		var pe *txpool.PoolError
		if errors.As(err, &pe) {
			return nil, newError(CodeServerError, err.Error(), pe.Hash)
		}
		return nil, newError(CodeServerError, err.Error(), nil)
	}

	return tx.Hash(), nil
}

// newAccount generates a keypair and returns it in its hex form.
func (h Handlers) newAccount() (any, *Error) {
	kp, err := signature.GenerateKeypair()
	if err != nil {
		return nil, newError(CodeServerError, err.Error(), nil)
	}

	return database.NewAccountFromKeypair(kp), nil
}

// =============================================================================

// decodeTransactionRequest accepts the request as the only element of a
// positional params array or as a named params object.
func decodeTransactionRequest(params json.RawMessage) (database.TransactionRequest, error) {
	var tr database.TransactionRequest

	params = bytes.TrimSpace(params)
	if len(params) == 0 {
		return tr, errors.New("missing params")
	}

	if params[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(params, &list); err != nil {
			return tr, err
		}
		if len(list) != 1 {
			return tr, errors.New("expected exactly one transaction")
		}
		params = list[0]
	}

	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tr); err != nil {
		return tr, err
	}

	return tr, nil
}

func respond(ctx context.Context, w http.ResponseWriter, id json.RawMessage, result any, rerr *Error) error {
	if id == nil {
		id = json.RawMessage("null")
	}

	resp := Response{
		JSONRPC: Version,
		ID:      id,
		Result:  result,
		Error:   rerr,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
