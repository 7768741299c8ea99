package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"comclear/core/state"
	"comclear/native/registry"
	"comclear/native/requestbook"
	"comclear/native/swap"
)

func (s *Server) handleCreateRequest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected request payload", nil)
		return
	}
	var payload struct {
		Creator            string `json:"creator"`
		Commodity          string `json:"commodity"`
		Quantity           string `json:"quantity"`
		ReferencePrice     string `json:"referencePrice"`
		Mode               string `json:"mode"`
		OracleHandle       string `json:"oracleHandle"`
		CollateralPerParty string `json:"collateralPerParty"`
		Maturity           int64  `json:"maturity"`
		AcceptDeadline     int64  `json:"acceptDeadline"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	creator, err := parseAddress(payload.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	quantity, err := parseAmount(payload.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseAmount(payload.ReferencePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	collateral, err := parseAmount(payload.CollateralPerParty)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	mode, err := swap.ParsePricingMode(payload.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	created, evts, err := s.node.CreateRequest(creator, requestbook.CreateParams{
		Commodity:          payload.Commodity,
		Quantity:           quantity,
		ReferencePrice:     price,
		Mode:               mode,
		OracleHandle:       payload.OracleHandle,
		CollateralPerParty: collateral,
		Maturity:           payload.Maturity,
		AcceptDeadline:     payload.AcceptDeadline,
	})
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotRegistered):
			writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, err.Error(), nil)
		case errors.Is(err, state.ErrInsufficientBalance):
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		default:
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		}
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"request": requestPayload(created),
		"events":  eventPayloads(evts),
	})
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected accept payload", nil)
		return
	}
	var payload struct {
		RequestID uint64 `json:"requestId"`
		Responder string `json:"responder"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	responder, err := parseAddress(payload.Responder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	evts, err := s.node.AcceptRequest(payload.RequestID, responder)
	if err != nil {
		switch {
		case errors.Is(err, requestbook.ErrRequestNotFound):
			writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, requestbook.ErrRequestInactive),
			errors.Is(err, requestbook.ErrAcceptClosed),
			errors.Is(err, requestbook.ErrAlreadyAccepted),
			errors.Is(err, requestbook.ErrSelfAccept):
			writeError(w, http.StatusConflict, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, registry.ErrNotRegistered):
			writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, err.Error(), nil)
		case errors.Is(err, state.ErrInsufficientBalance):
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		}
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"accepted": true,
		"events":   eventPayloads(evts),
	})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected request id", nil)
		return
	}
	var payload struct {
		RequestID uint64 `json:"requestId"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	request, err := s.node.GetRequest(payload.RequestID)
	if err != nil {
		if errors.Is(err, requestbook.ErrRequestNotFound) {
			writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, requestPayload(request))
}

func (s *Server) handleListOpenRequests(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	open, err := s.node.ListOpenRequests()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	payloads := make([]*RequestPayload, 0, len(open))
	for _, request := range open {
		payloads = append(payloads, requestPayload(request))
	}
	writeResult(w, req.ID, payloads)
}

func (s *Server) handleSelectAcceptor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected select payload", nil)
		return
	}
	var payload struct {
		RequestID       uint64  `json:"requestId"`
		Caller          string  `json:"caller"`
		Acceptor        string  `json:"acceptor"`
		SettlementTimes []int64 `json:"settlementTimes"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	caller, err := parseAddress(payload.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	acceptor, err := parseAddress(payload.Acceptor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	created, evts, err := s.node.SelectAcceptor(payload.RequestID, caller, acceptor, payload.SettlementTimes)
	if err != nil {
		switch {
		case errors.Is(err, requestbook.ErrRequestNotFound):
			writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, requestbook.ErrNotCreator):
			writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, err.Error(), nil)
		case errors.Is(err, requestbook.ErrRequestInactive),
			errors.Is(err, requestbook.ErrAcceptorUnknown):
			writeError(w, http.StatusConflict, req.ID, codeInvalidParams, err.Error(), nil)
		default:
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		}
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"swap":   swapPayload(created),
		"events": eventPayloads(evts),
	})
}

func (s *Server) handleWithdrawRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return
	}
	amount, evts, err := s.node.WithdrawRefund(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"withdrawn": bigString(amount),
		"events":    eventPayloads(evts),
	})
}

func (s *Server) handleGetRefundBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return
	}
	balance, err := s.node.RefundBalance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"pending": bigString(balance)})
}
