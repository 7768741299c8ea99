package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"comclear/native/oracle"
)

func (s *Server) handlePostPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected quote payload", nil)
		return
	}
	var payload struct {
		Handle    string `json:"handle"`
		Price     string `json:"price"`
		UpdatedAt int64  `json:"updatedAt"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	price, err := parseAmount(payload.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.PostPrice(payload.Handle, price, payload.UpdatedAt); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"posted": true})
}

func (s *Server) handleGetQuote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected handle payload", nil)
		return
	}
	var payload struct {
		Handle string `json:"handle"`
	}
	if err := json.Unmarshal(req.Params[0], &payload); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payload", err.Error())
		return
	}
	quote, err := s.node.ReadQuote(payload.Handle)
	if err != nil {
		switch {
		case errors.Is(err, oracle.ErrUnknownHandle):
			writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, oracle.ErrNoFreshQuote):
			writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		}
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"price":     bigString(quote.Price),
		"valid":     quote.Valid,
		"updatedAt": quote.UpdatedAt,
	})
}
