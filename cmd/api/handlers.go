package main

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"poolflow/auth"
	"poolflow/dispute"
	"poolflow/pool"
	"poolflow/timeline"
	"poolflow/wallet"
)

type disputeView struct {
	RaisedBy string `json:"raisedBy"`
	Reason   string `json:"reason"`
}

type poolResponse struct {
	Address      string       `json:"address"`
	Manager      string       `json:"manager"`
	GoverningLaw string       `json:"governingLaw"`
	Jurisdiction string       `json:"jurisdiction"`
	Arbitrator   string       `json:"arbitrator"`
	Round        uint64       `json:"round"`
	Players      []string     `json:"players"`
	Pot          string       `json:"pot"`
	Dispute      *disputeView `json:"dispute,omitempty"`
}

func toPoolResponse(st pool.State) poolResponse {
	resp := poolResponse{
		Address:      st.Address.String(),
		Manager:      st.Manager.String(),
		GoverningLaw: st.Governance.GoverningLaw,
		Jurisdiction: st.Governance.Jurisdiction,
		Arbitrator:   st.Governance.Arbitrator.String(),
		Round:        st.Round,
		Players:      addressStrings(st.Players),
		Pot:          amountString(st.Pot),
	}
	if st.Dispute != nil {
		resp.Dispute = &disputeView{RaisedBy: st.Dispute.RaisedBy.String(), Reason: st.Dispute.Reason}
	}
	return resp
}

type governanceResponse struct {
	GoverningLaw string `json:"governingLaw"`
	Jurisdiction string `json:"jurisdiction"`
	Arbitrator   string `json:"arbitrator"`
}

type payoutResponse struct {
	Winner string `json:"winner"`
	Amount string `json:"amount"`
	Round  uint64 `json:"round"`
}

type disputeResponse struct {
	ID               string  `json:"id"`
	PoolAddress      string  `json:"poolAddress"`
	Round            uint64  `json:"round"`
	RaisedBy         string  `json:"raisedBy"`
	Reason           string  `json:"reason"`
	Status           string  `json:"status"`
	OutcomeNote      *string `json:"outcomeNote,omitempty"`
	ResolvedBy       *string `json:"resolvedBy,omitempty"`
	ResolutionAmount *string `json:"resolutionAmount,omitempty"`
	CreatedAt        string  `json:"createdAt"`
	ResolvedAt       *string `json:"resolvedAt,omitempty"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	resp := disputeResponse{
		ID:          rec.ID,
		PoolAddress: rec.PoolAddress,
		Round:       rec.Round,
		RaisedBy:    rec.RaisedBy,
		Reason:      rec.Reason,
		Status:      string(rec.Status),
		OutcomeNote: rec.OutcomeNote,
		ResolvedBy:  rec.ResolvedBy,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.ResolutionAmount != nil {
		amt := rec.ResolutionAmount.String()
		resp.ResolutionAmount = &amt
	}
	if rec.ResolvedAt != nil {
		at := rec.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &at
	}
	return resp
}

type eventResponse struct {
	Seq       int             `json:"seq"`
	Kind      string          `json:"kind"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"createdAt"`
}

type decisionResponse struct {
	DecisionMaker string          `json:"decisionMaker"`
	Amount        string          `json:"amount"`
	Topic         string          `json:"topic"`
	Dispute       disputeResponse `json:"dispute"`
}

type walletResponse struct {
	Address      string `json:"address"`
	Balance      string `json:"balance"`
	AcceptsFunds bool   `json:"acceptsFunds"`
}

func toWalletResponse(acct wallet.Account) walletResponse {
	return walletResponse{Address: acct.Address, Balance: amountString(acct.Balance), AcceptsFunds: acct.AcceptsFunds}
}

func addressStrings(in []pool.Address) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = a.String()
	}
	return out
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cred, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"address": cred.Address})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     res.Token,
		"address":   res.Address,
		"expiresAt": res.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing caller")
		return
	}
	var req struct {
		GoverningLaw string `json:"governingLaw"`
		Jurisdiction string `json:"jurisdiction"`
		Arbitrator   string `json:"arbitrator"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	arbitrator, err := pool.ParseAddress(req.Arbitrator)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if req.GoverningLaw == "" || req.Jurisdiction == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "governingLaw and jurisdiction are required")
		return
	}

	st, err := s.poolService.Deploy(r.Context(), pool.DeployParams{
		Manager:      caller,
		GoverningLaw: req.GoverningLaw,
		Jurisdiction: req.Jurisdiction,
		Arbitrator:   arbitrator,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPoolResponse(st))
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	address, ok := poolParam(w, r)
	if !ok {
		return
	}
	st, err := s.poolService.Get(r.Context(), address)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolResponse(st))
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	address, ok := poolParam(w, r)
	if !ok {
		return
	}
	players, err := s.poolService.Players(r.Context(), address)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": addressStrings(players), "total": len(players)})
}

func (s *Server) handleGovernance(w http.ResponseWriter, r *http.Request) {
	address, ok := poolParam(w, r)
	if !ok {
		return
	}
	gov, err := s.poolService.Governance(r.Context(), address)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, governanceResponse{
		GoverningLaw: gov.GoverningLaw,
		Jurisdiction: gov.Jurisdiction,
		Arbitrator:   gov.Arbitrator.String(),
	})
}

func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	address, ok := poolParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	value, ok := parseWei(req.Value)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "value must be a base-10 wei amount")
		return
	}

	st, err := s.poolService.Enter(r.Context(), address, caller, value)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPoolResponse(st))
}

func (s *Server) handlePickWinner(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	address, ok := poolParam(w, r)
	if !ok {
		return
	}
	payout, err := s.poolService.PickWinner(r.Context(), address, caller)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payoutResponse{
		Winner: payout.Winner.String(),
		Amount: amountString(payout.Amount),
		Round:  payout.Round,
	})
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	address, ok := poolParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := s.poolService.RaiseDispute(r.Context(), address, caller, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(rec))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	address, ok := poolParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.poolService.ResolveDispute(r.Context(), address, caller, req.Note)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		DecisionMaker: res.Decision.DecisionMaker.String(),
		Amount:        amountString(res.Decision.Amount),
		Topic:         res.Decision.Topic(),
		Dispute:       toDisputeResponse(res.Record),
	})
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	address, ok := poolParam(w, r)
	if !ok {
		return
	}
	status := dispute.Status(r.URL.Query().Get("status"))
	records, err := s.disputeService.List(r.Context(), address.String(), status)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]disputeResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toDisputeResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	rec, err := s.disputeService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	address, ok := poolParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := timeline.Filter{
		PoolAddress: address.String(),
		Kind:        q.Get("kind"),
		Topic:       q.Get("topic"),
	}
	if v := q.Get("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "after must be a non-negative integer")
			return
		}
		filter.AfterSeq = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer")
			return
		}
		filter.Limit = n
	}

	events, err := s.eventService.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, eventResponse{
			Seq:       ev.Seq,
			Kind:      ev.Kind,
			Topic:     ev.Topic,
			Payload:   json.RawMessage(ev.Payload),
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	acct, err := s.walletService.GetByAddress(r.Context(), caller.String())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletResponse(acct))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	var req struct {
		Amount string `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, ok := parseWei(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a base-10 wei amount")
		return
	}
	acct, err := s.walletService.Deposit(r.Context(), caller.String(), amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletResponse(acct))
}

func (s *Server) handleAcceptsFunds(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	var req struct {
		AcceptsFunds bool `json:"acceptsFunds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	acct, err := s.walletService.SetAcceptsFunds(r.Context(), caller.String(), req.AcceptsFunds)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletResponse(acct))
}
