// Package api is a thin HTTP facade over FetchCoordinator and IndexQuery,
// routed with gorilla/mux the way the teacher's go.mod pulls it in for its
// own HTTP services.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/tieredfetch/tieredfetcher/internal/coordinator"
	"github.com/tieredfetch/tieredfetcher/internal/indexquery"
	"github.com/tieredfetch/tieredfetcher/internal/types"
)

// API wires FetchCoordinator and IndexQuery behind an HTTP router.
type API struct {
	coordinator *coordinator.Coordinator
	indexQuery  *indexquery.IndexQuery
	logger      log.Logger
}

// New returns an API.
func New(coord *coordinator.Coordinator, iq *indexquery.IndexQuery, logger log.Logger) *API {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &API{coordinator: coord, indexQuery: iq, logger: logger}
}

// Router builds the gorilla/mux router serving every endpoint.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/message", a.handleGetMessage).Methods(http.MethodGet)
	r.HandleFunc("/v1/query", a.handleQueryMessage).Methods(http.MethodGet)
	r.HandleFunc("/v1/earliest-time", a.handleEarliestMessageTime).Methods(http.MethodGet)
	r.HandleFunc("/v1/store-timestamp", a.handleMessageStoreTimeStamp).Methods(http.MethodGet)
	r.HandleFunc("/v1/offset-by-time", a.handleOffsetInQueueByTime).Methods(http.MethodGet)
	return r
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	group := q.Get("group")
	queue := types.MessageQueue{
		Topic:      q.Get("topic"),
		BrokerName: q.Get("broker"),
		QueueID:    int32(parseInt(q.Get("queueId"))),
	}
	queueOffset := parseInt64(q.Get("queueOffset"))
	maxCount := parseInt(q.Get("maxCount"))
	if maxCount <= 0 {
		maxCount = 32
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	ch := a.coordinator.GetMessageAsync(ctx, group, queue, queueOffset, maxCount, nil)
	select {
	case result := <-ch:
		writeJSON(w, a.logger, http.StatusOK, result)
	case <-ctx.Done():
		http.Error(w, "request timed out", http.StatusGatewayTimeout)
	}
}

func (a *API) handleQueryMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topic := q.Get("topic")
	key := q.Get("key")
	maxCount := parseInt(q.Get("maxCount"))
	if maxCount <= 0 {
		maxCount = 32
	}
	beginTime := parseInt64(q.Get("beginTime"))
	endTime := parseInt64(q.Get("endTime"))
	if endTime == 0 {
		endTime = time.Now().UnixMilli()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	ch := a.indexQuery.QueryMessageAsync(ctx, topic, key, maxCount, beginTime, endTime)
	select {
	case result := <-ch:
		writeJSON(w, a.logger, http.StatusOK, result)
	case <-ctx.Done():
		http.Error(w, "request timed out", http.StatusGatewayTimeout)
	}
}

func (a *API) handleEarliestMessageTime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	queue := types.MessageQueue{Topic: q.Get("topic"), BrokerName: q.Get("broker"), QueueID: int32(parseInt(q.Get("queueId")))}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	select {
	case ts := <-a.coordinator.GetEarliestMessageTimeAsync(ctx, queue):
		writeJSON(w, a.logger, http.StatusOK, map[string]int64{"storeTimestamp": ts})
	case <-ctx.Done():
		http.Error(w, "request timed out", http.StatusGatewayTimeout)
	}
}

func (a *API) handleMessageStoreTimeStamp(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	queue := types.MessageQueue{Topic: q.Get("topic"), BrokerName: q.Get("broker"), QueueID: int32(parseInt(q.Get("queueId")))}
	queueOffset := parseInt64(q.Get("queueOffset"))

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	select {
	case ts := <-a.coordinator.GetMessageStoreTimeStampAsync(ctx, queue, queueOffset):
		writeJSON(w, a.logger, http.StatusOK, map[string]int64{"storeTimestamp": ts})
	case <-ctx.Done():
		http.Error(w, "request timed out", http.StatusGatewayTimeout)
	}
}

func (a *API) handleOffsetInQueueByTime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	queue := types.MessageQueue{Topic: q.Get("topic"), BrokerName: q.Get("broker"), QueueID: int32(parseInt(q.Get("queueId")))}
	timestamp := parseInt64(q.Get("timestamp"))
	boundary := types.BoundaryLower
	if q.Get("boundary") == "upper" {
		boundary = types.BoundaryUpper
	}

	offset := a.coordinator.GetOffsetInQueueByTime(r.Context(), queue, timestamp, boundary)
	writeJSON(w, a.logger, http.StatusOK, map[string]int64{"offset": offset})
}

func writeJSON(w http.ResponseWriter, logger log.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Warn(logger).Log("msg", "failed to encode response", "err", err)
	}
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
