package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/shellxfer/internal/events"
	"github.com/rescale/shellxfer/internal/transfer"
)

func startClientServer(t *testing.T, eng Engine) (*Client, *events.EventBus) {
	t.Helper()
	srv, bus := newTestServer(t, eng, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(strings.TrimPrefix(ts.URL, "http://"), testToken, nil), bus
}

func TestClientRoundTrip(t *testing.T) {
	eng := &fakeEngine{active: true}
	client, _ := startClientServer(t, eng)
	ctx := context.Background()

	require.NoError(t, client.Health(ctx))

	info, err := client.Enqueue(ctx, TransferRequest{
		Kind:       transfer.KindUploadFromFile,
		RemotePath: "/srv/report.csv",
		LocalPath:  "/tmp/report.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, "/srv/report.csv", info.RemotePath)
	assert.Equal(t, "build01", info.Host)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Stats.Pending)
	require.Len(t, status.Tasks, 1)

	canceled, err := client.Cancel(ctx)
	require.NoError(t, err)
	assert.True(t, canceled)
}

func TestClientErrors(t *testing.T) {
	client, _ := startClientServer(t, &fakeEngine{})
	ctx := context.Background()

	_, err := client.Enqueue(ctx, TransferRequest{Kind: transfer.KindUploadFromStream, RemotePath: "/x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "unsupported transfer kind")

	_, err = client.History(ctx, 10)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	client.token = "wrong"
	_, err = client.Status(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, CancelResponse{Canceled: false})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, testToken, nil)
	canceled, err := client.Cancel(context.Background())
	require.NoError(t, err)
	assert.False(t, canceled)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	client := NewClient(addr, testToken, nil)
	client.httpClient.Timeout = time.Second
	err := client.Health(context.Background())
	assert.ErrorIs(t, err, ErrServerUnavailable)
}

func TestClientEvents(t *testing.T) {
	client, bus := startClientServer(t, &fakeEngine{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan events.Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- client.Events(ctx, func(ev events.Event) error {
			received <- ev
			return errors.New("stop")
		})
	}()

	// The subscription is registered asynchronously; publish until it lands.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	var got events.Event
	for got == nil {
		select {
		case <-ticker.C:
			ev := events.NewProgressEvent()
			ev.TaskID = "t1"
			ev.Title = "Download: app.log"
			ev.Progress = 500
			bus.Publish(ev)
		case got = <-received:
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}

	progress, ok := got.(*events.ProgressEvent)
	require.True(t, ok, "got %T", got)
	assert.Equal(t, "t1", progress.TaskID)
	assert.Equal(t, 500, progress.Progress)
	assert.Equal(t, events.EventProgress, progress.Type())

	err := <-done
	assert.EqualError(t, err, "stop")
}

func TestDecodeEventUnknownType(t *testing.T) {
	_, err := decodeEvent("mystery", []byte(`{}`))
	assert.Error(t, err)
}
