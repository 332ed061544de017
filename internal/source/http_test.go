package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/appcatalog/internal/apperr"
)

func TestHTTP_FetchPaginated(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprint(w, `{"data":{"apps":[{"bundle_id":"a","version":"1.0"}]},"links":{"next":"/feed?page=2"}}`)
		case "2":
			fmt.Fprint(w, `{"data":{"apps":[{"bundle_id":"b","version":2}]},"links":{"next":""}}`)
		}
	}))
	defer srv.Close()

	src := NewHTTP(HTTPConfig{
		URL:         srv.URL + "/feed",
		RecordsPath: "data.apps",
		NextPath:    "links.next",
		Headers:     map[string]string{"X-Api-Key": "secret"},
	}, srv.Client(), Normalizer{}, nil)

	batch, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, "a", batch.Records[0].BundleID)
	assert.Equal(t, "2", batch.Records[1].Version)
	assert.NotEmpty(t, batch.Digest)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTP_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		path    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{}`, "apps", apperr.ErrSourceUnavailable},
		{"not json", http.StatusOK, `<html>`, "apps", apperr.ErrSourceFormat},
		{"missing array", http.StatusOK, `{"items":[]}`, "apps", apperr.ErrSourceFormat},
		{"invalid record", http.StatusOK, `{"apps":[{"version":"1"}]}`, "apps", apperr.ErrSourceFormat},
		{"record wrong type", http.StatusOK, `{"apps":[{"bundle_id":"a","version":"1","tags":"x"}]}`, "apps", apperr.ErrSourceFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			src := NewHTTP(HTTPConfig{URL: srv.URL, RecordsPath: tt.path}, srv.Client(), Normalizer{}, nil)
			_, err := src.Fetch(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(HTTPConfig{URL: url}, nil, Normalizer{}, nil).Fetch(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrSourceUnavailable), "got %v", err)
}

func TestHTTP_PaginationLoopDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"apps":[],"next":"/same"}`)
	}))
	defer srv.Close()

	_, err := NewHTTP(HTTPConfig{URL: srv.URL + "/same", NextPath: "next"}, srv.Client(), Normalizer{}, nil).
		Fetch(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrSourceFormat), "got %v", err)
}
