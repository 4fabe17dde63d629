package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"protectedpay/internal/idempotency"
	"protectedpay/internal/protectedpay"
	"protectedpay/internal/wallet"
)

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
	TxHash string `json:"txHash,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps client and wallet failures onto HTTP statuses.
func statusFor(err error) (int, errorResponse) {
	var perr *protectedpay.Error
	switch {
	case errors.Is(err, wallet.ErrConnectInProgress):
		return http.StatusConflict, errorResponse{Error: err.Error(), Kind: "connect_in_progress"}
	case wallet.IsUserRejected(err):
		return http.StatusForbidden, errorResponse{Error: "Request was rejected", Kind: protectedpay.KindUserRejected.String()}
	case errors.Is(err, wallet.ErrNoAccounts):
		return http.StatusBadGateway, errorResponse{Error: err.Error()}
	case errors.As(err, &perr):
		resp := errorResponse{Error: perr.Message, Kind: perr.Kind.String(), Reason: perr.Reason, TxHash: perr.TxHash}
		switch perr.Kind {
		case protectedpay.KindInvalidInput:
			return http.StatusBadRequest, resp
		case protectedpay.KindNotConnected, protectedpay.KindChainMismatch:
			return http.StatusPreconditionFailed, resp
		case protectedpay.KindUserRejected:
			return http.StatusForbidden, resp
		case protectedpay.KindInsufficientFunds:
			return http.StatusPaymentRequired, resp
		case protectedpay.KindReverted:
			return http.StatusUnprocessableEntity, resp
		case protectedpay.KindTransactionFailed:
			return http.StatusBadGateway, resp
		case protectedpay.KindUnavailable:
			return http.StatusServiceUnavailable, resp
		}
		return http.StatusInternalServerError, resp
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal error"}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", r.Header.Get(HeaderRequestID)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// writeOp performs one contract write and returns the status and body to
// store under the request's idempotency key.
type writeOp func(ctx context.Context, r *http.Request) (int, interface{}, error)

const (
	opRegister               = "register"
	opSend                   = "send"
	opClaim                  = "claim"
	opRefund                 = "refund"
	opCreateGroupPayment     = "create_group_payment"
	opContributeGroupPayment = "contribute_group_payment"
	opCreateSavingsPot       = "create_savings_pot"
	opContributeSavingsPot   = "contribute_savings_pot"
	opBreakPot               = "break_pot"
)

func idempotencyKey(op, key string) string { return op + ":" + key }

// idempotent wraps a write with X-Idempotency-Key handling. A completed key
// replays its stored response and a key still in flight is refused with 409.
// A write that failed before submission releases the key so the caller may
// invoke it again; one that failed after broadcast keeps the failure, with
// its transaction hash, as the key's answer. No write is ever retried here.
func (s *Server) idempotent(op string, run writeOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if header == "" {
			writeMessage(w, http.StatusBadRequest, "missing "+HeaderIdempotencyKey+" header")
			return
		}
		key := idempotencyKey(op, header)
		ctx := r.Context()

		existing, err := s.store.Get(ctx, key)
		if err != nil {
			s.logger.Error("idempotency lookup failed", zap.String("key", key), zap.Error(err))
			writeMessage(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			return
		}
		if existing != nil {
			s.replay(w, existing)
			return
		}

		now := time.Now()
		ok, err := s.store.Reserve(ctx, key, now.Add(s.cfg.Service.IdempotencyWindow))
		if err != nil {
			s.logger.Error("idempotency reserve failed", zap.String("key", key), zap.Error(err))
			writeMessage(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			return
		}
		if !ok {
			s.metrics.incReplay("in_flight")
			writeMessage(w, http.StatusConflict, "request with this idempotency key is in progress")
			return
		}

		// The transaction outlives a dropped connection; its outcome is
		// still recorded under the key.
		writeCtx := context.WithoutCancel(ctx)
		status, body, err := run(writeCtx, r)
		if err != nil {
			s.metrics.incWrite(op, "failed")
			if broadcastHash(err) == "" {
				if relErr := s.store.Release(writeCtx, key); relErr != nil {
					s.logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(relErr))
				}
				s.writeError(w, r, err)
				return
			}
			// The transaction is on the network: the key now answers with
			// its hash instead of allowing a second broadcast.
			status, body = statusFor(err)
			if status >= http.StatusInternalServerError {
				s.logger.Error("write failed after broadcast",
					zap.String("request_id", r.Header.Get(HeaderRequestID)),
					zap.String("key", key),
					zap.Error(err))
			}
		} else {
			s.metrics.incWrite(op, "confirmed")
		}

		b, err := json.Marshal(body)
		if err != nil {
			_ = s.store.Release(writeCtx, key)
			s.writeError(w, r, err)
			return
		}
		s.save(writeCtx, key, now, status, b)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(b)
	}
}

func (s *Server) save(ctx context.Context, key string, created time.Time, status int, body []byte) {
	record := idempotency.Record{
		StatusCode: status,
		Response:   body,
		CreatedAt:  created,
		ExpiresAt:  time.Now().Add(s.cfg.Service.IdempotencyWindow),
	}
	if err := s.store.Save(ctx, key, record); err != nil {
		s.logger.Warn("idempotency save failed", zap.String("key", key), zap.Error(err))
	}
}

// broadcastHash is the hash of the transaction a failed write already sent,
// or "" when the failure came before submission.
func broadcastHash(err error) string {
	var perr *protectedpay.Error
	if errors.As(err, &perr) {
		return perr.TxHash
	}
	return ""
}

func (s *Server) replay(w http.ResponseWriter, rec *idempotency.Record) {
	if rec.Pending {
		s.metrics.incReplay("in_flight")
		writeMessage(w, http.StatusConflict, "request with this idempotency key is in progress")
		return
	}
	s.metrics.incReplay("replayed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Response)
}
