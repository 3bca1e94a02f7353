package httpapi

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpdock-go/internal/registry"
)

// streamLines reads the SSE body line by line into a channel until the
// connection closes.
func streamLines(t *testing.T, body io.Reader) <-chan string {
	t.Helper()
	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// waitForLine consumes lines until one satisfies the predicate.
func waitForLine(t *testing.T, lines <-chan string, what string, match func(string) bool) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed while waiting for %s", what)
			if match(line) {
				return line
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestEvents_StreamsLifecycleChanges(t *testing.T) {
	fx := newAPIFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fx.ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)

	resp, err := fx.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	lines := streamLines(t, resp.Body)
	waitForLine(t, lines, "handshake", func(line string) bool {
		return line == ": connected"
	})

	// A mutation after the handshake must reach the subscriber.
	_, err = fx.orch.CreateServer(registry.CreateRequest{
		Name:     "streamed",
		Endpoint: "https://streamed.example.com/mcp",
	})
	require.NoError(t, err)

	idLine := waitForLine(t, lines, "event id", func(line string) bool {
		return strings.HasPrefix(line, "id: ")
	})
	assert.Greater(t, len(idLine), len("id: "))

	waitForLine(t, lines, "servers.changed event", func(line string) bool {
		return line == "event: servers.changed"
	})
	dataLine := waitForLine(t, lines, "event data", func(line string) bool {
		return strings.HasPrefix(line, "data: ")
	})
	assert.Contains(t, dataLine, `"reason":"created"`)
}

func TestEvents_HeadProbesTheStream(t *testing.T) {
	fx := newAPIFixture(t, nil)

	req, err := http.NewRequest(http.MethodHead, fx.ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)

	resp, err := fx.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}
