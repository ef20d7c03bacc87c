package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/poiesic/gleaner/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"gleaner"}, args...))
	return out.String(), err
}

func TestSetupLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "DEBUG"} {
		t.Run(level, func(t *testing.T) {
			assert.NoError(t, setupLogger(&config.Config{LogLevel: level}))
		})
	}

	t.Run("invalid level", func(t *testing.T) {
		err := setupLogger(&config.Config{LogLevel: "chatty"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("invalid level flag fails the app", func(t *testing.T) {
		_, err := run(t, "--log-level", "chatty", "jobs")
		assert.Error(t, err)
	})
}

func TestEnqueueCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "db")

	t.Run("url is required", func(t *testing.T) {
		_, err := run(t, "--db", db, "enqueue", "--tenant", "T1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "url")
	})

	t.Run("queues and dedups", func(t *testing.T) {
		out, err := run(t, "--db", db, "enqueue", "--tenant", "T1", "--url", "https://example.com/a", "--priority", "5")
		require.NoError(t, err)
		var first map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &first))
		assert.Equal(t, false, first["deduped"])
		assert.Equal(t, "queued", first["status"])

		out, err = run(t, "--db", db, "enqueue", "--tenant", "T1", "--url", "https://example.com/a")
		require.NoError(t, err)
		var second map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &second))
		assert.Equal(t, true, second["deduped"])
		assert.Equal(t, first["jobId"], second["jobId"])
	})

	t.Run("rejects bad urls", func(t *testing.T) {
		_, err := run(t, "--db", db, "enqueue", "--tenant", "T1", "--url", "mailto:someone@example.com")
		assert.Error(t, err)
	})

	t.Run("jobs lists the queued job", func(t *testing.T) {
		out, err := run(t, "--db", db, "jobs", "--tenant", "T1")
		require.NoError(t, err)
		assert.Contains(t, out, "https://example.com/a")
		assert.Contains(t, out, "queued")
	})
}

func TestIngestCommand(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><head><title>Hi</title></head><body><p>Hello world. This is a test.</p></body></html>")
	}))
	defer page.Close()

	embeddings := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float32{0.1, 0.2, 0.3}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-embed",
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer embeddings.Close()

	db := filepath.Join(t.TempDir(), "db")
	out, err := run(t,
		"--db", db,
		"--embedding-host", embeddings.URL,
		"--embedding-model", "test-embed",
		"ingest", "--tenant", "T1", "--url", page.URL+"/hello",
	)
	require.NoError(t, err)

	var job map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, "completed", job["status"])
	assert.Equal(t, "done", job["stage"])
	result := job["result"].(map[string]any)
	assert.Equal(t, float64(1), result["stored"])

	jobOut, err := run(t, "--db", db, "job", job["id"].(string))
	require.NoError(t, err)
	assert.Contains(t, jobOut, `"status": "completed"`)

	reembedOut, err := run(t,
		"--db", db,
		"--embedding-host", embeddings.URL,
		"--embedding-model", "test-embed-2",
		"reembed", "--tenant", "T1", "--retry-delay", "1ms",
	)
	require.NoError(t, err)
	assert.Contains(t, reembedOut, "Reembedding complete")
}

func TestReembedCommandValidation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "db")
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"batch size", []string{"--batch-size", "0"}, "batch-size"},
		{"report interval", []string{"--report-interval", "0"}, "report-interval"},
		{"max retries", []string{"--max-retries", "0"}, "max-retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--db", db, "reembed", "--tenant", "T1"}, tt.args...)
			_, err := run(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestJobCommand_RequiresID(t *testing.T) {
	_, err := run(t, "--db", filepath.Join(t.TempDir(), "db"), "job")
	assert.Error(t, err)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "fetch failed", firstLine("fetch failed\nstack", 60))
	assert.Equal(t, "abc…", firstLine("abcdef", 3))
	assert.Equal(t, "", firstLine("", 10))
}
