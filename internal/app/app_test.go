package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena/netsync/internal/config"
	"arena/netsync/internal/net/proto"
	"arena/netsync/internal/netsync"
	"arena/netsync/logging"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeClient struct {
	errs  []error
	calls int
}

func (f *fakeClient) Connect(context.Context, string, string) error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type lines []string

func (l *lines) Printf(format string, args ...any) {
	*l = append(*l, format)
}

func TestSupervisorBacksOffBetweenAttempts(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	refused := errors.New("connection refused")
	client := &fakeClient{errs: []error{refused, refused, refused}}
	var logged lines
	sup := &supervisor{ctx: context.Background(), sync: client, address: "ws://arena.test/ws", logger: &logged}

	sup.connect(start)
	require.Equal(t, 1, client.calls)
	assert.Equal(t, start.Add(minReconnectDelay), sup.retryAt)

	sup.onFrame(netsync.Frame{Now: start.Add(500 * time.Millisecond), State: netsync.StateDisconnected})
	assert.Equal(t, 1, client.calls, "should wait for the retry deadline")

	sup.onFrame(netsync.Frame{Now: start.Add(time.Second), State: netsync.StateDisconnected})
	require.Equal(t, 2, client.calls)
	assert.Equal(t, start.Add(3*time.Second), sup.retryAt, "second delay doubles")

	sup.onFrame(netsync.Frame{Now: start.Add(3 * time.Second), State: netsync.StateDisconnected})
	require.Equal(t, 3, client.calls)
	assert.Equal(t, 8*time.Second, sup.delay)

	sup.onFrame(netsync.Frame{Now: start.Add(7 * time.Second), State: netsync.StateDisconnected})
	require.Equal(t, 4, client.calls)
	assert.Equal(t, netsync.StateSyncing, sup.lastState)

	sup.onFrame(netsync.Frame{Now: start.Add(8 * time.Second), State: netsync.StateActive})
	assert.Equal(t, minReconnectDelay, sup.delay, "reaching active resets the backoff")
}

func TestSupervisorReconnectsAfterSessionLoss(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	client := &fakeClient{}
	var logged lines
	sup := &supervisor{ctx: context.Background(), sync: client, logger: &logged, lastState: netsync.StateActive, delay: minReconnectDelay}

	sup.onFrame(netsync.Frame{Now: start, State: netsync.StateDisconnected})
	assert.Equal(t, 0, client.calls)
	sup.onFrame(netsync.Frame{Now: start.Add(minReconnectDelay), State: netsync.StateDisconnected})
	assert.Equal(t, 1, client.calls)
}

func TestSupervisorSkipsConnectAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &fakeClient{}
	var logged lines
	sup := &supervisor{ctx: ctx, sync: client, logger: &logged}
	sup.onFrame(netsync.Frame{Now: time.Now(), State: netsync.StateDisconnected})
	assert.Equal(t, 0, client.calls)
}

func TestSupervisorLogsStatsPeriodically(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	var logged lines
	sup := &supervisor{ctx: context.Background(), sync: &fakeClient{}, logger: &logged, lastState: netsync.StateActive}

	sup.onFrame(netsync.Frame{Now: start, State: netsync.StateActive})
	sup.onFrame(netsync.Frame{Now: start.Add(time.Second), State: netsync.StateActive})
	sup.onFrame(netsync.Frame{Now: start.Add(statsInterval), State: netsync.StateActive})
	assert.Len(t, logged, 2)
}

func TestFormatStats(t *testing.T) {
	out := formatStats(netsync.NetworkStats{
		State:              netsync.StateActive,
		AveragePing:        80 * time.Millisecond,
		InterpolationDelay: 50 * time.Millisecond,
		RemoteEntities:     3,
		LastCorrection:     0.25,
	})
	assert.Contains(t, out, "state=active")
	assert.Contains(t, out, "ping=80ms")
	assert.Contains(t, out, "remotes=3")
	assert.Contains(t, out, "correction=0.250m")
}

func TestBuildSinks(t *testing.T) {
	var out bytes.Buffer
	cfg := logging.DefaultConfig()
	cfg.Sinks = []string{"Console", "zerolog"}
	sinks, closeFiles, err := buildSinks(cfg, &out, zerolog.New(&out))
	require.NoError(t, err)
	defer closeFiles()
	require.Len(t, sinks, 2)
	assert.Equal(t, logging.SinkConsole, sinks[0].Name)
	assert.Equal(t, logging.SinkZerolog, sinks[1].Name)

	cfg.Sinks = []string{"json"}
	cfg.JSON.FilePath = t.TempDir() + "/events.ndjson"
	sinks, closeJSON, err := buildSinks(cfg, &out, zerolog.New(&out))
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	require.NoError(t, sinks[0].Sink.Close(context.Background()))
	closeJSON()

	cfg.Sinks = []string{"syslog"}
	_, _, err = buildSinks(cfg, &out, zerolog.New(&out))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syslog")
}

func TestRunSynchronizesWithServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	identities := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		select {
		case identities <- r.URL.Query().Get("identity"):
		default:
		}
		frame, err := proto.Encode(proto.JSONCodec{}, proto.InitialState{
			LocalEntityID: "probe",
			Entities:      []proto.EntityPayload{{ID: "probe", Health: 100}, {ID: "bot-1", Health: 100}},
			ServerTime:    time.Now().UnixMilli(),
		})
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Address = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.Server.Identity = "probe"
	cfg.Sync.TickRate = 100

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(500*time.Millisecond, cancel)

	var out lockedBuffer
	require.NoError(t, Run(ctx, cfg, &out))

	select {
	case identity := <-identities:
		assert.Equal(t, "probe", identity)
	default:
		t.Fatalf("server never saw a connection")
	}
	logs := out.String()
	assert.Contains(t, logs, "connected to")
	assert.Contains(t, logs, "syncing -> active")
	assert.Contains(t, logs, "shutdown complete")
}
