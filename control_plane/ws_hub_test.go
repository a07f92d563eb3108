package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/tierroute/control_plane/task"
	"github.com/itskum47/tierroute/control_plane/telemetry"
)

func TestNodeStatusStreamStopsWithHub(t *testing.T) {
	nodes := NewNodeService(telemetry.NewStore(telemetry.DefaultConfig(), midRandom{}), nil, nil, nil)
	hub := NewNodeStatusHub(nodes, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	api := &API{hub: hub}
	handlerDone := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.handleNodeStatusStream(w, r)
		handlerDone <- struct{}{}
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var report NodeStatusReport
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&report))
	assert.Len(t, report.Nodes, int(task.NumClasses))
	assert.Equal(t, 1, hub.ClientCount())

	cancel()
	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler still blocked after hub shutdown")
	}

	// Connections arriving after shutdown are closed, not parked.
	late, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer late.Close()
	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("late stream handler blocked on a stopped hub")
	}

	unregistered := make(chan struct{})
	go func() {
		hub.Unregister(late)
		close(unregistered)
	}()
	select {
	case <-unregistered:
	case <-time.After(time.Second):
		t.Fatal("Unregister blocked on a stopped hub")
	}
}
