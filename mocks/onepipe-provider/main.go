// Command onepipe-provider is a stand-in for the OnePipe transact API,
// used by local and e2e stacks so full mandate lifecycles run without
// provider credentials. Every request type gets a deterministic answer.
//
// Env knobs:
//
//	PORT           listen port, default 9090
//	SETUP_STATUS   data.status on Setup Mandate answers, default "Active"
//	CANCEL_CODE    data.provider_response_code on Cancel Mandate answers, default "00"
//	CLIENT_SECRET  when set, requests must carry a valid Signature header
package main

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
)

type transactRequest struct {
	RequestRef  string `json:"request_ref"`
	RequestType string `json:"request_type"`
}

type server struct {
	logger       *slog.Logger
	setupStatus  string
	cancelCode   string
	clientSecret string
	subscription atomic.Int64
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := &server{
		logger:       logger,
		setupStatus:  envOr("SETUP_STATUS", "Active"),
		cancelCode:   envOr("CANCEL_CODE", "00"),
		clientSecret: os.Getenv("CLIENT_SECRET"),
	}
	s.subscription.Store(4000)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/transact", s.handleTransact)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := ":" + envOr("PORT", "9090")
	logger.Info("onepipe provider stub listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleTransact(w http.ResponseWriter, r *http.Request) {
	var req transactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "Failed",
			"message": "malformed request",
		})
		return
	}
	if s.clientSecret != "" && r.Header.Get("Signature") != sign(req.RequestRef, s.clientSecret) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"status":  "Failed",
			"message": "invalid signature",
		})
		return
	}

	s.logger.Info("transact",
		"request_type", req.RequestType,
		"request_ref", req.RequestRef,
	)

	switch req.RequestType {
	case "get_banks":
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "Successful",
			"data": map[string]any{
				"provider_response": map[string]any{
					"banks": []map[string]any{
						{"name": "Access Bank", "code": "044"},
						{"name": "Guaranty Trust Bank", "code": "058"},
						{"name": "Zenith Bank", "code": "057"},
					},
				},
			},
		})
	case "lookup accounts min":
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "Successful",
			"data": map[string]any{
				"provider_response": map[string]any{
					"accounts": []map[string]any{{
						"account_number": "0123456789",
						"account_name":   "TEST ACCOUNT",
					}},
				},
			},
		})
	case "Setup Mandate":
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "Successful",
			"data": map[string]any{
				"status":                 s.setupStatus,
				"mandate_reference":      "MND-" + short(req.RequestRef),
				"subscription_id":        s.subscription.Add(1),
				"activation_url":         "https://activate.example/" + short(req.RequestRef),
				"provider_response_code": "00",
			},
		})
	case "Cancel Mandate":
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "Successful",
			"data": map[string]any{
				"provider_response_code": s.cancelCode,
			},
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "Failed",
			"message": "unsupported request_type: " + req.RequestType,
		})
	}
}

func sign(requestRef, clientSecret string) string {
	sum := md5.Sum([]byte(requestRef + ";" + clientSecret))
	return hex.EncodeToString(sum[:])
}

func short(ref string) string {
	if len(ref) > 8 {
		return ref[:8]
	}
	return ref
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
