package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"comclear/core/state"
	"comclear/native/swap"
	"comclear/observability"
)

func (s *Server) handleGetSwap(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected swap id", nil)
		return
	}
	var payload struct {
		SwapID uint64 `json:"swapId"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	record, err := s.node.GetSwap(payload.SwapID)
	if err != nil {
		if errors.Is(err, swap.ErrSwapNotFound) {
			writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, swapPayload(record))
}

func (s *Server) handleTopUpCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected top-up payload", nil)
		return
	}
	var payload struct {
		SwapID uint64 `json:"swapId"`
		Payer  string `json:"payer"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	payer, err := parseAddress(payload.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	evts, err := s.node.TopUpCollateral(payload.SwapID, payer, amount)
	if err != nil {
		switch {
		case errors.Is(err, swap.ErrSwapNotFound):
			writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, swap.ErrSwapInactive),
			errors.Is(err, swap.ErrNotParty),
			errors.Is(err, swap.ErrAmountNotPositive):
			writeError(w, http.StatusConflict, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, state.ErrInsufficientBalance):
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		}
		return
	}
	observability.Settlement().RecordTransfer()
	writeResult(w, req.ID, map[string]interface{}{
		"toppedUp": amount.String(),
		"events":   eventPayloads(evts),
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected swap id", nil)
		return
	}
	var payload struct {
		SwapID uint64 `json:"swapId"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	result, evts, err := s.node.Settle(payload.SwapID)
	if err != nil {
		switch {
		case errors.Is(err, swap.ErrSwapNotFound):
			writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, swap.ErrSwapInactive),
			errors.Is(err, swap.ErrRoundsExhausted),
			errors.Is(err, swap.ErrRoundNotDue),
			errors.Is(err, swap.ErrDeficitOutstanding):
			observability.Settlement().RecordRound("rejected")
			writeError(w, http.StatusConflict, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, swap.ErrOracleUnavailable),
			errors.Is(err, swap.ErrOraclePrice),
			errors.Is(err, swap.ErrOracleUnset),
			errors.Is(err, swap.ErrOracleStale):
			observability.Settlement().RecordRound("oracle_rejected")
			writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		}
		return
	}
	recordSettlementMetrics(result)
	writeResult(w, req.ID, map[string]interface{}{
		"settlement": settlementPayload(result),
		"events":     eventPayloads(evts),
	})
}

func recordSettlementMetrics(result *swap.SettlementResult) {
	metrics := observability.Settlement()
	metrics.RecordRound("executed")
	if result == nil {
		return
	}
	if result.AmountPaid != nil && result.AmountPaid.Sign() > 0 {
		metrics.RecordTransfer()
	}
	if result.NewDeficit != nil {
		metrics.RecordDeficit(result.NewDeficit.Kind.String())
	}
	for _, wo := range result.WriteOffs {
		metrics.RecordWriteOff(wo.Kind.String())
	}
	if result.Finished {
		metrics.RecordCompleted()
	}
}
