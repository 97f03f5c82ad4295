package rpc

import (
	"net/http"
	"strconv"

	"swapvault/crypto"
)

type tokenRegisterParams struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

type nativeFundParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type tokenFundParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type balanceGetParams struct {
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
}

type balanceResult struct {
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
	Balance string `json:"balance"`
}

func (s *Server) handleTokenRegister(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params tokenRegisterParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if _, err := s.node.TokenRegister(params.Symbol, params.Name, params.Decimals); err != nil {
		writeError(w, http.StatusUnprocessableEntity, req.ID, codeServerError, "register_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"symbol": params.Symbol})
}

func (s *Server) handleTokenList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	list, err := s.node.TokenList()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, list)
}

func (s *Server) handleNativeFund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params nativeFundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := crypto.DecodeIdentity(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.NativeFund(addr, amount); err != nil {
		writeError(w, http.StatusUnprocessableEntity, req.ID, codeServerError, "fund_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "funded"})
}

func (s *Server) handleTokenFund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params tokenFundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := crypto.DecodeIdentity(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	mint, err := s.resolveToken("token", params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.TokenFund(addr, mint, amount); err != nil {
		writeError(w, http.StatusUnprocessableEntity, req.ID, codeServerError, "fund_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "funded"})
}

// handleBalanceGet returns a token balance when a token symbol is supplied,
// or the native-unit balance otherwise.
func (s *Server) handleBalanceGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceGetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := crypto.DecodeIdentity(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var balance uint64
	if params.Token != "" {
		mint, err := s.resolveToken("token", params.Token)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		balance, err = s.node.Balance(addr, mint)
		if err != nil {
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
			return
		}
	} else {
		balance, err = s.node.NativeBalance(addr)
		if err != nil {
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
			return
		}
	}
	writeResult(w, req.ID, balanceResult{
		Address: params.Address,
		Token:   params.Token,
		Balance: strconv.FormatUint(balance, 10),
	})
}
