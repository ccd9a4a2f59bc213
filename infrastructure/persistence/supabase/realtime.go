package supabase

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"prism-backend/application/ports"
	pkgerrors "prism-backend/pkg/errors"
)

// Supabase realtime speaks the Phoenix channel protocol over a websocket.
// We join one topic per project and ask for postgres_changes on the nodes
// table (filtered by project) and on the votes table, then translate the
// pushed rows into ChangeEvents.
const (
	realtimePath      = "/realtime/v1/websocket"
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type postgresChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type changePayload struct {
	Data struct {
		Type      string         `json:"type"`
		Table     string         `json:"table"`
		Record    map[string]any `json:"record"`
		OldRecord map[string]any `json:"old_record"`
	} `json:"data"`
}

type realtimeClient struct {
	endpoint  string
	apiKey    string
	projectID string
	logger    *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}

	refMu sync.Mutex
	ref   int
}

// newRealtimeClient derives the websocket endpoint from the project's REST
// URL.
func newRealtimeClient(baseURL, apiKey, projectID string, logger *zap.Logger) (*realtimeClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, pkgerrors.NewValidation("invalid supabase url: " + baseURL)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return nil, pkgerrors.NewValidation("unsupported supabase url scheme: " + u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + realtimePath
	u.RawQuery = url.Values{
		"apikey": {apiKey},
		"vsn":    {"1.0.0"},
	}.Encode()

	if logger == nil {
		logger = zap.NewNop()
	}
	return &realtimeClient{
		endpoint:  u.String(),
		apiKey:    apiKey,
		projectID: projectID,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

func (rt *realtimeClient) nextRef() string {
	rt.refMu.Lock()
	defer rt.refMu.Unlock()
	rt.ref++
	return strconv.Itoa(rt.ref)
}

func (rt *realtimeClient) send(topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.NewInternal("encode realtime message", err)
	}
	msg := phoenixMessage{Topic: topic, Event: event, Payload: raw, Ref: rt.nextRef()}

	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()
	rt.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return rt.conn.WriteJSON(msg)
}

// start dials the endpoint, joins the project topic, and runs the read and
// heartbeat loops until the context is cancelled or stop is called.
func (rt *realtimeClient) start(ctx context.Context, onNodeChange, onVoteChange ports.ChangeHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, rt.endpoint, nil)
	if err != nil {
		return pkgerrors.NewRemoteUnavailable("dial realtime endpoint", err)
	}
	rt.conn = conn

	topic := "realtime:project:" + rt.projectID
	join := map[string]any{
		"config": map[string]any{
			"postgres_changes": []postgresChange{
				{Event: "*", Schema: "public", Table: "nodes", Filter: "project_id=eq." + rt.projectID},
				{Event: "*", Schema: "public", Table: "user_node_votes"},
			},
		},
	}
	if err := rt.send(topic, "phx_join", join); err != nil {
		conn.Close()
		return pkgerrors.NewRemoteUnavailable("join realtime channel", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel

	go rt.heartbeatLoop(loopCtx)
	go rt.readLoop(loopCtx, onNodeChange, onVoteChange)
	return nil
}

func (rt *realtimeClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rt.send("phoenix", "heartbeat", map[string]any{}); err != nil {
				rt.logger.Warn("realtime heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

func (rt *realtimeClient) readLoop(ctx context.Context, onNodeChange, onVoteChange ports.ChangeHandler) {
	defer close(rt.done)
	for {
		var msg phoenixMessage
		if err := rt.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				rt.logger.Warn("realtime connection closed", zap.Error(err))
			}
			return
		}
		if msg.Event != "postgres_changes" {
			continue
		}

		var payload changePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			rt.logger.Warn("malformed realtime payload", zap.Error(err))
			continue
		}

		event := ports.ChangeEvent{
			Type:   ports.ChangeType(payload.Data.Type),
			Record: payload.Data.Record,
		}
		// Deletes only carry the old row.
		record := payload.Data.Record
		if record == nil {
			record = payload.Data.OldRecord
		}

		switch payload.Data.Table {
		case "nodes":
			if id, ok := record["id"].(string); ok {
				event.NodeID = id
			}
			if onNodeChange != nil {
				onNodeChange(event)
			}
		case "user_node_votes":
			if id, ok := record["node_id"].(string); ok {
				event.NodeID = id
			}
			if onVoteChange != nil {
				onVoteChange(event)
			}
		}
	}
}

// stop tears the connection down and waits for the read loop to exit.
func (rt *realtimeClient) stop() {
	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.conn != nil {
		rt.conn.Close()
	}
	<-rt.done
}
