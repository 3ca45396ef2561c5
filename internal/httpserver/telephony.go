package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"bizconnect/internal/telephony"
)

// TelephonyBridge receives raw call signals pushed by the device's native
// telephony layer and feeds them into the classifier.
type TelephonyBridge struct {
	Classifier *telephony.Classifier
}

func (b *TelephonyBridge) Register(m *mux.Router) {
	m.HandleFunc("/v1/telephony/signal", b.handleSignal).Methods(http.MethodPost)
}

func (b *TelephonyBridge) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signal string `json:"signal"`
		Phone  string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.Signal == "" {
		http.Error(w, "signal is required", http.StatusBadRequest)
		return
	}
	b.Classifier.Observe(telephony.Signal(req.Signal), req.Phone)
	w.WriteHeader(http.StatusAccepted)
}
