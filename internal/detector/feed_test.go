package detector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/detection-dashboard/internal/apperrors"
	"github.com/vzahanych/detection-dashboard/internal/logger"
)

func mjpegHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for _, f := range frames {
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n%s\r\n", f)
		}
		fmt.Fprint(w, "--frame--\r\n")
	}
}

func TestFeed_ReadsFrames(t *testing.T) {
	client, _ := setupTestClient(t, mjpegHandler("one", "two"))

	feed, err := client.OpenFeed(context.Background())
	require.NoError(t, err)
	defer feed.Close()

	frame, err := feed.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", string(frame))

	frame, err = feed.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", string(frame))

	_, err = feed.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFeed_CloseIsIdempotent(t *testing.T) {
	client, _ := setupTestClient(t, mjpegHandler("one"))

	feed, err := client.OpenFeed(context.Background())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		feed.Close()
		feed.Close()
	})
}

func TestFeed_NotMultipart(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	})

	_, err := client.OpenFeed(context.Background())
	assert.True(t, apperrors.IsKind(err, apperrors.KindServer))
}

func TestFeed_BadStatus(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.OpenFeed(context.Background())
	assert.True(t, apperrors.IsKind(err, apperrors.KindServer))
}

func TestFeed_HeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(ClientConfig{ServiceURL: server.URL, Timeout: 50 * time.Millisecond}, logger.NewNopLogger(), nil)

	start := time.Now()
	_, err := client.OpenFeed(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindTimeout), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFeed_OutlivesHeaderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\nlate\r\n--frame--\r\n")
	}))
	defer server.Close()

	client := NewClient(ClientConfig{ServiceURL: server.URL, Timeout: 50 * time.Millisecond}, logger.NewNopLogger(), nil)

	feed, err := client.OpenFeed(context.Background())
	require.NoError(t, err)
	defer feed.Close()

	frame, err := feed.Next()
	require.NoError(t, err)
	assert.Equal(t, "late", string(frame))
}
