package zerolog_config

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.elastic.co/ecszerolog"
)

var startupLoggerOnce = &sync.Once{}

// ElasticsearchWriter sends each log line as a document to an index
type ElasticsearchWriter struct {
	URL    string
	Client *http.Client
}

func (ew ElasticsearchWriter) Write(p []byte) (n int, err error) {
	client := ew.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Post(ew.URL+"/_doc", "application/json", bytes.NewReader(p))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("elasticsearch returned %d", resp.StatusCode)
	}
	return len(p), nil
}

// Options configures the global logger
type Options struct {
	// App is added to every line as the "app" field
	App string
	// Level is a zerolog level name; empty means info
	Level string
	// ElasticsearchURL enables ECS shipping when set
	ElasticsearchURL string
	// Index is appended to ElasticsearchURL
	Index string
	// Out defaults to stdout
	Out io.Writer
}

// ParseLevel maps a level name to a zerolog level, case-insensitively
func ParseLevel(level string) (zerolog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zerolog.InfoLevel, nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// New builds a logger: pretty console output plus, when an Elasticsearch URL
// is set, ECS documents shipped to <url>/<index>
func New(opts Options) (zerolog.Logger, error) {
	if opts.App == "" {
		return zerolog.Logger{}, fmt.Errorf("app name is required")
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Logger{}, err
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}

	var w io.Writer = console
	if opts.ElasticsearchURL != "" {
		index := opts.Index
		if index == "" {
			index = "logs"
		}
		ecsLogger := ecszerolog.New(&ElasticsearchWriter{
			URL: strings.TrimRight(opts.ElasticsearchURL, "/") + "/" + index,
		})
		w = zerolog.MultiLevelWriter(ecsLogger, console)
	}

	return zerolog.New(w).Level(level).With().Str("app", opts.App).Timestamp().Logger(), nil
}

// Startup installs the logger built from opts as the global logger. Later
// calls are no-ops.
func Startup(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	startupLoggerOnce.Do(func() {
		zerolog.SetGlobalLevel(logger.GetLevel())
		log.Logger = logger
	})
	return nil
}
