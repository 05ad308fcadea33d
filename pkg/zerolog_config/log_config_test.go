package zerolog_config

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{" warn ", zerolog.WarnLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{App: "lumavet", Level: "info", Out: &buf})
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Str("exam_id", "e1").Msg("Exam uploaded")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "Exam uploaded")
	assert.Contains(t, out, "e1")
	assert.Contains(t, out, "lumavet")

	_, err = New(Options{})
	assert.Error(t, err)
}

func TestNewShipsToElasticsearch(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		docs  []string
	)
	es := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		docs = append(docs, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer es.Close()

	logger, err := New(Options{App: "lumavet", ElasticsearchURL: es.URL + "/", Index: "lumavet-logs", Out: io.Discard})
	require.NoError(t, err)
	logger.Info().Msg("shipped")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 1)
	assert.Equal(t, "/lumavet-logs/_doc", paths[0])
	assert.Contains(t, docs[0], "shipped")
}

func TestElasticsearchWriterReportsFailures(t *testing.T) {
	es := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer es.Close()

	_, err := ElasticsearchWriter{URL: es.URL}.Write([]byte(`{}`))
	assert.ErrorContains(t, err, "400")
}
