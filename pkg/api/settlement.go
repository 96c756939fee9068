package api

import (
	"io"
	"math/big"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const maxMessageBytes = 1 << 20

// RegisterSettlementRoutes wires the callbacks our settlement engine uses:
// incoming settlements credit the peer's balance and engine messages are
// relayed to the peer's engine over ILP.
func RegisterSettlementRoutes(mux *http.ServeMux, svc Service, opts Options) {
	authorized := authFunc(opts.Token)
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	mux.HandleFunc("/accounts/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, action, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/accounts/"), "/")
		if !ok || id == "" {
			http.NotFound(w, r)
			return
		}
		switch action {
		case "settlements":
			var req SettlementRequest
			if err := decodeJSON(r, &req); err != nil {
				http.Error(w, "invalid payload", http.StatusBadRequest)
				return
			}
			amount, ok := new(big.Int).SetString(req.Amount, 10)
			if !ok || amount.Sign() < 0 || req.Scale < 0 {
				http.Error(w, "invalid amount", http.StatusBadRequest)
				return
			}
			if err := svc.UpdateBalance(id, amount, req.Scale); err != nil {
				log.Warn("incoming settlement not applied", zap.String("peer", id), zap.String("amount", req.Amount), zap.Error(err))
				http.Error(w, err.Error(), statusOf(err))
				return
			}
			log.Info("incoming settlement", zap.String("peer", id), zap.String("amount", req.Amount), zap.Int("scale", req.Scale))
			writeJSON(w, http.StatusCreated, req)
		case "messages":
			msg, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
			if err != nil {
				http.Error(w, "invalid payload", http.StatusBadRequest)
				return
			}
			reply, err := svc.ForwardSettlementMessage(r.Context(), id, msg)
			if err != nil {
				log.Warn("settlement message not delivered", zap.String("peer", id), zap.Error(err))
				http.Error(w, err.Error(), statusOf(err))
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(reply)
		default:
			http.NotFound(w, r)
		}
	})
}
