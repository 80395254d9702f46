package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"offramp_go/internal/domain"
	"offramp_go/internal/receipt"
	"offramp_go/internal/service"

	"github.com/go-chi/chi/v5"
)

// orderView is an order plus the derived countdown and flow step.
type orderView struct {
	*domain.OfframpOrder
	LockRemainingSeconds int64            `json:"lock_remaining_seconds"`
	Step                 service.FlowStep `json:"step,omitempty"`
}

type checkoutResponse struct {
	Order orderView       `json:"order"`
	Lock  domain.RateLock `json:"lock"`
}

type rateResponse struct {
	service.RateSnapshot
	NextRefreshMillis int64 `json:"next_refresh_ms"`
}

type bankDetailsRequest struct {
	SavedAccountID string `json:"saved_account_id,omitempty"`
	BankCode       string `json:"bank_code,omitempty"`
	AccountNumber  string `json:"account_number,omitempty"`
}

func (s *Server) view(ctx context.Context, o *domain.OfframpOrder) orderView {
	v := orderView{OfframpOrder: o}
	if o.Status.IsPreProcessing() {
		v.LockRemainingSeconds = int64(o.LockRemaining(s.svc.Clock.Now()) / time.Second)
		if s.svc.Flow != nil {
			if step, err := s.svc.Flow.Step(ctx, o.ID); err == nil {
				v.Step = step
			}
		}
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Metrics.Snapshot())
}

func (s *Server) handleBanks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.NigerianBanks)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.Assets)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	asset, ok := domain.FindAssetByPair(chi.URLParam(r, "asset"), chi.URLParam(r, "chain"))
	if !ok {
		s.writeError(w, r, &domain.UnsupportedAssetError{Asset: chi.URLParam(r, "asset"), Chain: chi.URLParam(r, "chain")})
		return
	}
	snap := s.svc.Rates.Get(r.Context(), asset.Asset, asset.Chain)
	writeJSON(w, http.StatusOK, rateResponse{
		RateSnapshot:      snap,
		NextRefreshMillis: s.svc.Rates.NextRefreshIn(asset.Asset, asset.Chain).Milliseconds(),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req service.QuoteRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.Offramp.Quote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req service.QuoteRequest
	if !decode(w, r, &req) {
		return
	}
	order, lock, err := s.svc.Offramp.Checkout(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{Order: s.view(r.Context(), order), Lock: lock})
}

func (s *Server) handleLatestOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.Orders.Latest(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(r.Context(), order))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(r.Context(), order))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	order, lock, err := s.svc.Offramp.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{Order: s.view(r.Context(), order), Lock: lock})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.Flow.SavedAccounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []domain.SavedAccount{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Flow.DeleteSavedAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBankDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req bankDetailsRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		order *domain.OfframpOrder
		err   error
	)
	if req.SavedAccountID != "" {
		order, err = s.svc.Flow.UseSavedAccount(r.Context(), id, req.SavedAccountID)
	} else {
		if step, stepErr := s.svc.Flow.Step(r.Context(), id); stepErr == nil && step == service.StepSelect {
			if err := s.svc.Flow.AddNewAccount(r.Context(), id); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		order, err = s.svc.Flow.Verify(r.Context(), id, req.BankCode, req.AccountNumber)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(r.Context(), order))
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	step, err := s.svc.Flow.Back(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]service.FlowStep{"step": step})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if s.svc.Wallet == nil {
		s.writeError(w, r, domain.ErrWalletNotConnected)
		return
	}
	order, err := s.svc.Flow.Sign(r.Context(), chi.URLParam(r, "id"), s.svc.Wallet)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(r.Context(), order))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.svc.Wallet == nil {
		s.writeError(w, r, domain.ErrWalletNotConnected)
		return
	}
	order, err := s.svc.Submitter.SignAndSubmit(r.Context(), chi.URLParam(r, "id"), s.svc.Wallet)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.svc.Poller != nil {
		// Not tied to the request: the watch must outlive it.
		s.svc.Poller.Watch(context.Background(), order.ID)
	}
	writeJSON(w, http.StatusAccepted, s.view(r.Context(), order))
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rc := receipt.FromOrder(order)
	name := "Aframp-Receipt-" + order.ID

	switch format := r.URL.Query().Get("format"); format {
	case "", "txt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".txt"))
		err = receipt.WriteText(w, rc)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".csv"))
		err = receipt.WriteCSV(w, rc)
	case "png":
		logo := s.logo(rc.BankCode)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".png"))
		err = receipt.WritePNG(w, rc, logo)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_format", Error: "format must be txt, csv or png"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to write receipt", slog.String("order_id", order.ID), slog.Any("error", err))
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var syntax *json.SyntaxError
		msg := "invalid request body"
		if errors.As(err, &syntax) {
			msg = fmt.Sprintf("malformed JSON at offset %d", syntax.Offset)
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Error: msg})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
