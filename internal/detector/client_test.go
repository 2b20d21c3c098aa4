package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
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
	"github.com/vzahanych/detection-dashboard/internal/metrics"
	"github.com/vzahanych/detection-dashboard/internal/selection"
)

func setupTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		ServiceURL: server.URL,
		Timeout:    2 * time.Second,
	}, logger.NewNopLogger(), metrics.New())

	return client, server
}

func testImage() selection.Asset {
	return selection.Asset{
		Kind:     selection.KindImage,
		Name:     "photo.png",
		Size:     4,
		MIMEType: "image/png",
		Source:   selection.BytesSource("\x89PNG"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClient_Detect(t *testing.T) {
	annotated := []byte("annotated jpeg")

	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "0.7", r.FormValue("confidence_threshold"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "\x89PNG", string(data))
		assert.Equal(t, "photo.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"image":      base64.StdEncoding.EncodeToString(annotated),
			"detections": []map[string]interface{}{{"class": "person", "confidence": 0.92, "bbox": []int{1, 2, 3, 4}}},
			"filename":   "result_x_photo.png",
		})
	})

	res, err := client.Detect(context.Background(), testImage(), 0.7)
	require.NoError(t, err)
	assert.Equal(t, annotated, res.AnnotatedImage)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, "person", res.Detections[0].Class)
	assert.InDelta(t, 0.92, res.Detections[0].Confidence, 1e-9)
	assert.Equal(t, "result_x_photo.png", res.Filename)
}

func TestClient_Detect_EmptyDetections(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "image": "", "detections": nil})
	})

	res, err := client.Detect(context.Background(), testImage(), 0.5)
	require.NoError(t, err)
	assert.NotNil(t, res.Detections)
	assert.Empty(t, res.Detections)
}

func TestClient_Detect_ServerErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"rejected with message", http.StatusBadRequest, `{"error":"Invalid file type"}`, "Invalid file type"},
		{"success false", http.StatusOK, `{"success":false,"error":"Failed to load model"}`, "Failed to load model"},
		{"success false no message", http.StatusOK, `{"success":false}`, ""},
		{"html error page", http.StatusInternalServerError, `<html>boom</html>`, ""},
		{"garbage on 200", http.StatusOK, `not json`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.Detect(context.Background(), testImage(), 0.5)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindServer), "got %v", err)
			assert.Equal(t, tt.message, apperrors.UserMessage(err, ""))
		})
	}
}

func TestClient_Detect_NetworkError(t *testing.T) {
	client, server := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.Detect(context.Background(), testImage(), 0.5)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNetwork), "got %v", err)
}

func TestClient_Detect_Timeout(t *testing.T) {
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

	_, err := client.Detect(context.Background(), testImage(), 0.5)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindTimeout), "got %v", err)
}

func TestClient_Detect_UnreadableSource(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	asset := testImage()
	asset.Source = selection.PathSource("/definitely/missing.png")

	_, err := client.Detect(context.Background(), asset, 0.5)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestClient_DetectVideo(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/video-inference", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("video")
		require.NoError(t, err)
		assert.Equal(t, "0.25", r.FormValue("confidence_threshold"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":        true,
			"preview":        base64.StdEncoding.EncodeToString([]byte("frame")),
			"message":        "Video processing completed",
			"video_filename": "result_clip.mp4",
		})
	})

	asset := selection.Asset{Kind: selection.KindVideo, Name: "clip.mp4", MIMEType: "video/mp4", Source: selection.BytesSource("mp4")}
	res, err := client.DetectVideo(context.Background(), asset, 0.25)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), res.Preview)
	assert.Equal(t, "Video processing completed", res.Message)
	assert.Equal(t, "result_clip.mp4", res.VideoFilename)
}

func TestClient_FetchStats(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/stats", r.URL.Path)
		fmt.Fprint(w, `{
			"total_detections": 7,
			"class_counts": {"safe": 4, "no helmet": 3},
			"recent_detections": [
				{"timestamp": "2024-05-01T10:00:00.123456", "total": 3, "detections": []},
				{"timestamp": "2024-05-01T10:00:05Z", "total": 4}
			]
		}`)
	})

	stats, err := client.FetchStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalDetections)
	assert.Equal(t, 3, stats.ClassCounts["no helmet"])
	require.Len(t, stats.RecentDetections, 2)
	assert.Equal(t, 10, stats.RecentDetections[0].Timestamp.Hour())
	assert.Equal(t, 4, stats.RecentDetections[1].Total)
}

func TestClient_FetchStats_ServerError(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.FetchStats(context.Background())
	assert.True(t, apperrors.IsKind(err, apperrors.KindServer))
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestClient_Reset(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reset", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Statistics reset"})
	})

	msg, err := client.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Statistics reset", msg)
}

func TestClient_Reset_Failure(t *testing.T) {
	client, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": "Error during reset: disk busy"})
	})

	_, err := client.Reset(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Error during reset: disk busy", apperrors.UserMessage(err, ""))
}

func TestStatsRecent(t *testing.T) {
	var s Stats
	for i := 1; i <= 8; i++ {
		s.RecentDetections = append(s.RecentDetections, RecentDetection{Total: i})
	}

	recent := s.Recent(5)
	require.Len(t, recent, 5)
	assert.Equal(t, 4, recent[0].Total)
	assert.Equal(t, 8, recent[4].Total, "most recent is last")

	assert.Len(t, Stats{RecentDetections: s.RecentDetections[:2]}.Recent(5), 2)
	assert.Nil(t, Stats{}.Recent(5))
}

func TestTimestamp_Invalid(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
}
