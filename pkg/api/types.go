package api

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssargent/skadidb/pkg/store"
	"github.com/ssargent/skadidb/pkg/task"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// KeyValue is one entry of a scan page. Values are base64 in JSON.
type KeyValue struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// ScanResponse is a page of keys in ascending order. Next, when set, is the
// start key of the following page.
type ScanResponse struct {
	Items []KeyValue `json:"items"`
	Next  string     `json:"next,omitempty"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Bind   string
	Port   int
	APIKey string
	// MaxBodySize bounds PUT and PATCH bodies. Zero means DefaultMaxBodySize.
	MaxBodySize int64
	Logger      *slog.Logger
}

// IKVStore is the part of *store.Store the server uses.
type IKVStore interface {
	Insert(key, value []byte) error
	Update(key, delta []byte) error
	Delete(key []byte) error
	Lookup(key []byte, result *store.LookupResult) error
	NewIterator(start []byte) (*store.Iterator, error)
	RegisterThread() (*task.Thread, error)
	Stats() (*store.Stats, error)
	Registry() *prometheus.Registry
}

var _ IKVStore = (*store.Store)(nil)
