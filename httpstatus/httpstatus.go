// Package httpstatus serves a small read-only introspection surface on
// the front-end (SPEC_FULL §C.10): /healthz, /probes, /probes/{id},
// /latency. Grounded on the teacher's gorilla/mux + gorilla/handlers stack
// (carbon-relay-ng's go.mod) for the router and access logging, plus
// elazarl/go-bindata-assetfs for a single embedded static status page.
package httpstatus

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	assetfs "github.com/elazarl/go-bindata-assetfs"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// ProbeSummary is the JSON shape of one probe in the /probes listing.
// It is a plain data snapshot so httpstatus never needs to import
// package probe directly (spec §9's non-owning back-reference
// discipline extends to this read-only consumer too).
type ProbeSummary struct {
	ID       uint64 `json:"id"`
	State    string `json:"state"`
	Children int    `json:"children"`
}

// Source supplies the data this server reports; cmd/dysectfe's probe
// tracker (or a test double) implements it.
type Source interface {
	ProbeSummaries() []ProbeSummary
	ProbeSummary(id uint64) (ProbeSummary, bool)
}

// LatencySource supplies the coordinator's quorum-latency histogram
// (SPEC_FULL §C.5) for the read-only /latency route. It is a tiny
// interface rather than a direct *coordinator.Coordinator dependency,
// so httpstatus never needs to import package coordinator (spec §9's
// non-owning back-reference discipline extends to this consumer too).
type LatencySource interface {
	LatencyBuckets() []uint64
}

// NewServer builds an *http.Server serving the introspection routes on
// addr, wrapped in gorilla/handlers' combined (Apache-style) access
// log writing to accessLog. lat may be nil, in which case /latency
// always reports an empty histogram.
func NewServer(addr string, src Source, lat LatencySource, accessLog *os.File) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/probes", probesHandler(src)).Methods(http.MethodGet)
	r.HandleFunc("/probes/{id}", probeHandler(src)).Methods(http.MethodGet)
	r.HandleFunc("/latency", latencyHandler(lat)).Methods(http.MethodGet)
	r.PathPrefix("/status/").Handler(http.StripPrefix("/status/", http.FileServer(statusAssetFS())))

	var h http.Handler = r
	if accessLog != nil {
		h = handlers.CombinedLoggingHandler(accessLog, r)
	}

	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func probesHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, src.ProbeSummaries())
	}
}

func probeHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := mux.Vars(r)["id"]
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			http.Error(w, "malformed probe id", http.StatusBadRequest)
			return
		}
		summary, ok := src.ProbeSummary(id)
		if !ok {
			http.Error(w, "probe not found", http.StatusNotFound)
			return
		}
		writeJSON(w, summary)
	}
}

func latencyHandler(lat LatencySource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var buckets []uint64
		if lat != nil {
			buckets = lat.LatencyBuckets()
		}
		writeJSON(w, buckets)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
