package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"comclear/core/state"
	"comclear/native/registry"
)

type addressParam struct {
	Address string `json:"address"`
}

func (s *Server) decodeAddressParam(w http.ResponseWriter, req *RPCRequest) ([20]byte, bool) {
	var addr [20]byte
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected address payload", nil)
		return addr, false
	}
	var payload addressParam
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return addr, false
	}
	addr, err := parseAddress(payload.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return addr, false
	}
	return addr, true
}

func (s *Server) handleRegister(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return
	}
	evts, err := s.node.Register(addr)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadyRegistered):
			writeError(w, http.StatusConflict, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, state.ErrInsufficientBalance):
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		}
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"registered": true,
		"events":     eventPayloads(evts),
	})
}

func (s *Server) handleIsRegistered(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return
	}
	registered, err := s.node.IsRegistered(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"registered": registered})
}

func (s *Server) handleGetReputation(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return
	}
	score, err := s.node.Reputation(addr)
	if err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"reputation": score})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.decodeAddressParam(w, req)
	if !ok {
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"balance": bigString(balance)})
}

func (s *Server) handleMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected mint payload", nil)
		return
	}
	var payload struct {
		Address string `json:"address"`
		Amount  string `json:"amount"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	addr, err := parseAddress(payload.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.Mint(addr, amount); err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"minted": amount.String()})
}
