package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/ssargent/skadidb/pkg/store"
)

// DefaultMaxBodySize bounds request bodies when ServerConfig leaves it zero.
const DefaultMaxBodySize = 1 << 20

const (
	defaultScanLimit = 100
	maxScanLimit     = 1000
)

// Server holds the API server state
type Server struct {
	store   IKVStore
	config  ServerConfig
	metrics *Metrics
	logger  *slog.Logger
}

// NewServer creates a new API server
func NewServer(store IKVStore, config ServerConfig, metrics *Metrics) *Server {
	if config.MaxBodySize == 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   store,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// keyParam returns the unescaped {key} path parameter.
func keyParam(r *http.Request) ([]byte, error) {
	raw := chi.URLParam(r, "key")
	if raw == "" {
		return nil, errors.New("Key is required")
	}
	key, err := url.PathUnescape(raw)
	if err != nil {
		return nil, errors.New("Invalid key encoding")
	}
	return []byte(key), nil
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("Request body too large")
		}
		return nil, http.StatusBadRequest, errors.New("Failed to read request body")
	}
	return body, http.StatusOK, nil
}

// handleHealth godoc
//
//	@Summary		Health check
//	@Description	Get the health status of the API
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Router			/health [get]
//	@Security		ApiKeyAuth
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(); err != nil {
		s.metrics.RecordHealthCheck(false)
		sendError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	s.metrics.RecordHealthCheck(true)
	sendSuccess(w, map[string]string{"status": "healthy", "version": store.Version()})
}

// handlePut godoc
//
//	@Summary		Put a key-value pair
//	@Description	Set the value of a key, replacing any previous value
//	@Tags			kv
//	@Accept			octet-stream
//	@Produce		json
//	@Param			key		path		string	true	"Key"
//	@Param			body	body		[]byte	true	"Value"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	map[string]string
//	@Failure		507		{object}	map[string]string
//	@Security		ApiKeyAuth
//	@Router			/kv/{key} [put]
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "insert", s.store.Insert, "Key-value pair stored successfully")
}

// handlePatch godoc
//
//	@Summary		Update a key
//	@Description	Merge the body into the value of a key using the store's merge policy
//	@Tags			kv
//	@Accept			octet-stream
//	@Produce		json
//	@Param			key		path		string	true	"Key"
//	@Param			body	body		[]byte	true	"Delta"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	map[string]string
//	@Security		ApiKeyAuth
//	@Router			/kv/{key} [patch]
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "update", s.store.Update, "Key updated successfully")
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request, op string, apply func(key, value []byte) error, message string) {
	start := time.Now()
	key, err := keyParam(r)
	if err != nil {
		s.metrics.RecordDBOperation(op, false, time.Since(start))
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	body, code, err := s.readBody(w, r)
	if err != nil {
		s.metrics.RecordDBOperation(op, false, time.Since(start))
		sendError(w, err.Error(), code)
		return
	}

	if err := apply(key, body); err != nil {
		s.metrics.RecordDBOperation(op, false, time.Since(start))
		sendError(w, "Failed to "+op+" key: "+err.Error(), httpStatus(err))
		return
	}

	s.metrics.RecordDBOperation(op, true, time.Since(start))
	sendSuccess(w, map[string]string{"message": message})
}

// handleGet godoc
//
//	@Summary		Get a value by key
//	@Description	Retrieve the raw value for a given key
//	@Tags			kv
//	@Produce		octet-stream
//	@Param			key	path		string	true	"Key"
//	@Success		200	{string}	byte
//	@Failure		400	{object}	map[string]string
//	@Failure		404	{object}	map[string]string
//	@Router			/kv/{key} [get]
//	@Security		ApiKeyAuth
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, err := keyParam(r)
	if err != nil {
		s.metrics.RecordDBOperation("lookup", false, time.Since(start))
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Values that fit are staged in the thread's scratch until written out.
	res := store.NewLookupResult(threadScratch(r))
	if err := s.store.Lookup(key, res); err != nil {
		s.metrics.RecordDBOperation("lookup", false, time.Since(start))
		sendError(w, "Failed to get value: "+err.Error(), httpStatus(err))
		return
	}
	s.metrics.RecordDBOperation("lookup", true, time.Since(start))

	value, err := res.Value()
	if err != nil {
		sendError(w, "Key not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	_, _ = w.Write(value)
}

// handleDelete godoc
//
//	@Summary		Delete a key
//	@Description	Delete a key. Deleting an absent key succeeds.
//	@Tags			kv
//	@Produce		json
//	@Param			key	path		string	true	"Key"
//	@Success		200	{object}	map[string]string
//	@Failure		400	{object}	map[string]string
//	@Router			/kv/{key} [delete]
//	@Security		ApiKeyAuth
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, err := keyParam(r)
	if err != nil {
		s.metrics.RecordDBOperation("delete", false, time.Since(start))
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.Delete(key); err != nil {
		s.metrics.RecordDBOperation("delete", false, time.Since(start))
		sendError(w, "Failed to delete key: "+err.Error(), httpStatus(err))
		return
	}

	s.metrics.RecordDBOperation("delete", true, time.Since(start))
	sendSuccess(w, map[string]string{"message": "Key deleted successfully"})
}

// handleScan godoc
//
//	@Summary		Scan keys
//	@Description	List live keys in ascending order starting at an optional key
//	@Tags			kv
//	@Produce		json
//	@Param			start	query		string	false	"First key"
//	@Param			limit	query		int		false	"Page size (default 100, max 1000)"
//	@Success		200		{object}	ScanResponse
//	@Failure		400		{object}	map[string]string
//	@Router			/scan [get]
//	@Security		ApiKeyAuth
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	query := r.URL.Query()

	limit := defaultScanLimit
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxScanLimit {
			sendError(w, "limit must be between 1 and "+strconv.Itoa(maxScanLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}
	var from []byte
	if query.Has("start") {
		from = []byte(query.Get("start"))
	}

	page, err := s.scan(from, limit)
	if err != nil {
		s.metrics.RecordDBOperation("iterate", false, time.Since(start))
		sendError(w, "Failed to scan: "+err.Error(), httpStatus(err))
		return
	}
	s.metrics.RecordDBOperation("iterate", true, time.Since(start))
	sendSuccess(w, page)
}

func (s *Server) scan(from []byte, limit int) (*ScanResponse, error) {
	it, err := s.store.NewIterator(from)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	page := &ScanResponse{Items: []KeyValue{}}
	for it.Valid() {
		key, value := it.Current()
		if len(page.Items) == limit {
			page.Next = string(key)
			break
		}
		page.Items = append(page.Items, KeyValue{
			Key:   string(key),
			Value: append([]byte(nil), value...),
		})
		if err := it.Next(); err != nil {
			return nil, err
		}
	}
	return page, it.Status()
}

// handleStats godoc
//
//	@Summary		Store statistics
//	@Description	Operation counters and subsystem usage
//	@Tags			diagnostics
//	@Produce		json
//	@Success		200	{object}	store.Stats
//	@Router			/stats [get]
//	@Security		ApiKeyAuth
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		sendError(w, "Failed to get stats: "+err.Error(), httpStatus(err))
		return
	}
	s.metrics.UpdateDBStats(stats.ThreadsInUse, stats.Tree.DiskUsage)
	sendSuccess(w, stats)
}
