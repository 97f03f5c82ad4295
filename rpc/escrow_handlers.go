package rpc

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"swapvault/core/state"
	"swapvault/crypto"
	"swapvault/native/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

type escrowOpenParams struct {
	Maker          string `json:"maker"`
	Nonce          uint64 `json:"nonce"`
	OfferedToken   string `json:"offeredToken"`
	RequestedToken string `json:"requestedToken"`
	Amount         string `json:"amount"`
	Receive        string `json:"receive"`
	Signature      string `json:"signature"`
}

type escrowFulfillParams struct {
	Record         string `json:"record"`
	Taker          string `json:"taker"`
	Maker          string `json:"maker"`
	OfferedToken   string `json:"offeredToken"`
	RequestedToken string `json:"requestedToken"`
	Signature      string `json:"signature"`
}

type escrowCancelParams struct {
	Record    string `json:"record"`
	Caller    string `json:"caller"`
	Signature string `json:"signature"`
}

type escrowRecordParams struct {
	Record string `json:"record"`
}

type escrowOpenResult struct {
	Record string `json:"record"`
}

type escrowJSON struct {
	Record         string `json:"record"`
	Nonce          uint64 `json:"nonce"`
	Maker          string `json:"maker"`
	OfferedToken   string `json:"offeredToken"`
	RequestedToken string `json:"requestedToken"`
	Receive        string `json:"receive"`
	Locked         string `json:"locked"`
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeEscrowNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidMintA),
		errors.Is(err, escrow.ErrInvalidMintB):
		writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, escrow.ErrInvalidMaker):
		writeError(w, http.StatusForbidden, id, codeEscrowForbidden, "forbidden", err.Error())
	case errors.Is(err, escrow.ErrExists):
		writeError(w, http.StatusConflict, id, codeEscrowConflict, "conflict", err.Error())
	case errors.Is(err, state.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, id, codeEscrowConflict, "insufficient_balance", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeEscrowInternal, "internal_error", err.Error())
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAmount(field, raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%s must not be empty", field)
	}
	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an unsigned decimal: %w", field, err)
	}
	return value, nil
}

// resolveToken maps a symbol onto its registered asset id.
func (s *Server) resolveToken(field, symbol string) ([32]byte, error) {
	id := state.TokenID(symbol)
	meta, err := s.node.Token(id)
	if err != nil {
		return [32]byte{}, err
	}
	if meta == nil {
		return [32]byte{}, fmt.Errorf("%s: token %s not registered", field, symbol)
	}
	return id, nil
}

func uintBytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// verifySignature recovers the signer of the operation digest and requires it
// to equal expected.
func verifySignature(expected [32]byte, digest []byte, sigHex string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return fmt.Errorf("signature must be hex: %w", err)
	}
	signer, err := crypto.RecoverIdentity(digest, sig)
	if err != nil {
		return err
	}
	if signer != expected {
		return fmt.Errorf("signature does not match caller identity")
	}
	return nil
}

func (s *Server) handleEscrowOpen(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowOpenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	maker, err := crypto.DecodeIdentity(params.Maker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	mintA, err := s.resolveToken("offeredToken", params.OfferedToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	mintB, err := s.resolveToken("requestedToken", params.RequestedToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	receive, err := parseAmount("receive", params.Receive)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	digest := crypto.OperationDigest("escrow_open",
		maker[:], uintBytes(params.Nonce), mintA[:], mintB[:], uintBytes(amount), uintBytes(receive))
	if err := verifySignature(maker, digest, params.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "invalid_signature", err.Error())
		return
	}

	record, err := s.node.EscrowOpen(maker, params.Nonce, mintA, mintB, amount, receive)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	encoded, err := crypto.EncodeRecord(record)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, escrowOpenResult{Record: encoded})
}

func (s *Server) handleEscrowFulfill(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowFulfillParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := crypto.DecodeRecord(params.Record)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	taker, err := crypto.DecodeIdentity(params.Taker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	maker, err := crypto.DecodeIdentity(params.Maker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	mintA, err := s.resolveToken("offeredToken", params.OfferedToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	mintB, err := s.resolveToken("requestedToken", params.RequestedToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	digest := crypto.OperationDigest("escrow_fulfill",
		record[:], taker[:], maker[:], mintA[:], mintB[:])
	if err := verifySignature(taker, digest, params.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "invalid_signature", err.Error())
		return
	}

	if err := s.node.EscrowFulfill(record, taker, maker, mintA, mintB); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "fulfilled"})
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCancelParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := crypto.DecodeRecord(params.Record)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := crypto.DecodeIdentity(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	digest := crypto.OperationDigest("escrow_cancel", record[:], caller[:])
	if err := verifySignature(caller, digest, params.Signature); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "invalid_signature", err.Error())
		return
	}

	if err := s.node.EscrowCancel(record, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "cancelled"})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowRecordParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := crypto.DecodeRecord(params.Record)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, ok := s.node.EscrowGet(record)
	if !ok {
		writeEscrowError(w, req.ID, escrow.ErrNotFound)
		return
	}
	result, err := s.formatEscrowJSON(record, esc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) formatEscrowJSON(record [32]byte, esc *escrow.Escrow) (*escrowJSON, error) {
	encodedRecord, err := crypto.EncodeRecord(record)
	if err != nil {
		return nil, err
	}
	maker, err := crypto.EncodeIdentity(esc.Maker)
	if err != nil {
		return nil, err
	}
	vault, _, err := escrow.DeriveVault(record, esc.MintA)
	if err != nil {
		return nil, err
	}
	locked, err := s.node.Balance(vault, esc.MintA)
	if err != nil {
		return nil, err
	}
	out := &escrowJSON{
		Record:         encodedRecord,
		Nonce:          esc.Nonce,
		Maker:          maker,
		OfferedToken:   hex.EncodeToString(esc.MintA[:]),
		RequestedToken: hex.EncodeToString(esc.MintB[:]),
		Receive:        strconv.FormatUint(esc.Receive, 10),
		Locked:         strconv.FormatUint(locked, 10),
	}
	if metaA, err := s.node.Token(esc.MintA); err == nil && metaA != nil {
		out.OfferedToken = metaA.Symbol
	}
	if metaB, err := s.node.Token(esc.MintB); err == nil && metaB != nil {
		out.RequestedToken = metaB.Symbol
	}
	return out, nil
}
