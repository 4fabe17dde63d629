package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"protectedpay/internal/protectedpay"
	"protectedpay/internal/wallet"
)

type sessionResponse struct {
	Connected bool            `json:"connected"`
	Session   *wallet.Session `json:"session,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	session, err := s.wallet.Connect(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Connected: true, Session: &session})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.wallet.Disconnect()
	writeJSON(w, http.StatusOK, sessionResponse{Connected: false})
}

// handleSession reports the session with a freshly read balance. A failed
// balance read falls back to the last known one.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.wallet.Current()
	if !ok {
		writeJSON(w, http.StatusOK, sessionResponse{Connected: false})
		return
	}
	fresh, err := s.wallet.RefreshBalance(r.Context())
	switch {
	case err == nil:
		session = fresh
	case errors.Is(err, wallet.ErrNotConnected):
		writeJSON(w, http.StatusOK, sessionResponse{Connected: false})
		return
	default:
		s.logger.Warn("balance refresh failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, sessionResponse{Connected: true, Session: &session})
}

func decodeBody(r *http.Request, into interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return &protectedpay.Error{Kind: protectedpay.KindInvalidInput, Message: "invalid json payload"}
	}
	return nil
}

func invalid(msg string) error {
	return &protectedpay.Error{Kind: protectedpay.KindInvalidInput, Message: msg}
}

func pathID(r *http.Request) (protectedpay.WireID, error) {
	id, err := protectedpay.ParseWireID(chi.URLParam(r, "id"))
	if err != nil {
		return protectedpay.WireID{}, invalid("invalid id " + chi.URLParam(r, "id"))
	}
	return id, nil
}

func pathAddress(r *http.Request) (common.Address, error) {
	return parseAddress(chi.URLParam(r, "address"))
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, invalid("invalid address " + raw)
	}
	return common.HexToAddress(raw), nil
}

// Writes.

type registerRequest struct {
	Username string `json:"username"`
}

func (s *Server) register(ctx context.Context, r *http.Request) (int, interface{}, error) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	receipt, err := s.client.RegisterUsername(ctx, s.wallet.Signer(), req.Username)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, receipt, nil
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Remarks   string `json:"remarks"`
}

func (s *Server) send(ctx context.Context, r *http.Request) (int, interface{}, error) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	receipt, err := protectedpay.Send(ctx, s.client, s.wallet.Signer(), req.Recipient, req.Amount, req.Remarks)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, receipt, nil
}

type claimRequest struct {
	Identifier string `json:"identifier"`
}

type claimResponse struct {
	ClaimedBy string                `json:"claimedBy"`
	Receipt   *protectedpay.Receipt `json:"receipt"`
}

func (s *Server) claim(ctx context.Context, r *http.Request) (int, interface{}, error) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	if strings.TrimSpace(req.Identifier) == "" {
		return 0, nil, invalid("identifier is required")
	}
	target, receipt, err := protectedpay.ClaimTransfer(ctx, s.client, s.wallet.Signer(), strings.TrimSpace(req.Identifier))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, claimResponse{ClaimedBy: target.Kind.String(), Receipt: receipt}, nil
}

func (s *Server) refund(ctx context.Context, r *http.Request) (int, interface{}, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, nil, err
	}
	receipt, err := s.client.RefundTransfer(ctx, s.wallet.Signer(), id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, receipt, nil
}

type createGroupPaymentRequest struct {
	Recipient       string `json:"recipient"`
	NumParticipants uint64 `json:"numParticipants"`
	TotalAmount     string `json:"totalAmount"`
	Remarks         string `json:"remarks"`
}

func (s *Server) createGroupPayment(ctx context.Context, r *http.Request) (int, interface{}, error) {
	var req createGroupPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		return 0, nil, err
	}
	receipt, err := s.client.CreateGroupPayment(ctx, s.wallet.Signer(), recipient, req.NumParticipants, req.TotalAmount, req.Remarks)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, receipt, nil
}

type contributeRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) contributeGroupPayment(ctx context.Context, r *http.Request) (int, interface{}, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, nil, err
	}
	var req contributeRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	receipt, err := s.client.ContributeToGroupPayment(ctx, s.wallet.Signer(), id, req.Amount)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, receipt, nil
}

type createSavingsPotRequest struct {
	Name         string `json:"name"`
	TargetAmount string `json:"targetAmount"`
	Remarks      string `json:"remarks"`
}

func (s *Server) createSavingsPot(ctx context.Context, r *http.Request) (int, interface{}, error) {
	var req createSavingsPotRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	receipt, err := s.client.CreateSavingsPot(ctx, s.wallet.Signer(), req.Name, req.TargetAmount, req.Remarks)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, receipt, nil
}

func (s *Server) contributeSavingsPot(ctx context.Context, r *http.Request) (int, interface{}, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, nil, err
	}
	var req contributeRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	receipt, err := s.client.ContributeToSavingsPot(ctx, s.wallet.Signer(), id, req.Amount)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, receipt, nil
}

func (s *Server) breakPot(ctx context.Context, r *http.Request) (int, interface{}, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, nil, err
	}
	receipt, err := s.client.BreakPot(ctx, s.wallet.Signer(), id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, receipt, nil
}

// Reads.

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	username, err := s.client.GetUserByAddress(r.Context(), s.wallet.Signer(), address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": address, "username": username})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	profile, err := protectedpay.ResolveProfile(r.Context(), s.client, s.wallet.Signer(), address, s.cfg.Chain.ReadConcurrency)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetUsername(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	address, err := s.client.GetUserByUsername(r.Context(), s.wallet.Signer(), username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"address": address, "username": username})
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	transfer, err := s.client.GetTransferDetails(r.Context(), s.wallet.Signer(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

type transferLister func(ctx context.Context, c protectedpay.Client, signer protectedpay.Signer, address common.Address, limit int) ([]protectedpay.Transfer, error)

func (s *Server) listTransfers(list transferLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, err := pathAddress(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		transfers, err := list(r.Context(), s.client, s.wallet.Signer(), address, s.cfg.Chain.ReadConcurrency)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": transfers})
	}
}

func (s *Server) handlePendingTransfers(w http.ResponseWriter, r *http.Request) {
	s.listTransfers(protectedpay.PendingTransfers)(w, r)
}

func (s *Server) handleRefundableTransfers(w http.ResponseWriter, r *http.Request) {
	s.listTransfers(protectedpay.RefundableTransfers)(w, r)
}

func (s *Server) handleUserTransfers(w http.ResponseWriter, r *http.Request) {
	s.listTransfers(func(ctx context.Context, c protectedpay.Client, signer protectedpay.Signer, address common.Address, _ int) ([]protectedpay.Transfer, error) {
		transfers, err := c.GetUserTransfers(ctx, signer, address)
		if transfers == nil && err == nil {
			transfers = []protectedpay.Transfer{}
		}
		return transfers, err
	})(w, r)
}

type groupPaymentResponse struct {
	protectedpay.GroupPayment
	Progress float64 `json:"progress"`
}

func (s *Server) handleGetGroupPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payment, err := s.client.GetGroupPaymentDetails(r.Context(), s.wallet.Signer(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groupPaymentResponse{GroupPayment: *payment, Progress: payment.Progress()})
}

func (s *Server) handleGetContribution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	address, err := pathAddress(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, signer := r.Context(), s.wallet.Signer()
	contributed, err := s.client.HasContributedToGroupPayment(ctx, signer, id, address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amt, err := s.client.GetGroupPaymentContribution(ctx, signer, id, address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          id,
		"contributor": address,
		"contributed": contributed,
		"amount":      amt,
	})
}

type savingsPotResponse struct {
	protectedpay.SavingsPot
	Progress float64 `json:"progress"`
}

func (s *Server) handleGetSavingsPot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pot, err := s.client.GetSavingsPotDetails(r.Context(), s.wallet.Signer(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, savingsPotResponse{SavingsPot: *pot, Progress: pot.Progress()})
}
