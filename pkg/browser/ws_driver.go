package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	flerrors "github.com/flowlens/flowlens/pkg/errors"
)

// wsDriver drives a remote session over its websocket command channel. One
// command is in flight at a time; a run executes its steps sequentially so
// this matches the ordering guarantees the runner needs.
type wsDriver struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// Connect dials the session's connect endpoint and returns a Driver for it.
func Connect(ctx context.Context, sess *Session) (Driver, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, sess.ConnectEndpoint, nil)
	if err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeSessionFatal, "failed to connect to session").
			WithContext("session_id", sess.ID)
	}
	return &wsDriver{conn: conn}, nil
}

type wsCommand struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type wsResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// send issues one command and waits for its response, honoring ctx deadlines.
func (d *wsDriver) send(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, flerrors.Wrap(errDriverClosed, flerrors.ErrCodeSessionFatal, "session driver closed")
	}

	cmd := wsCommand{
		ID:     uuid.NewString(),
		Method: method,
		Params: params,
	}

	deadline := time.Now().Add(DefaultActionTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok {
		deadline = ctxDeadline
	}
	if err := d.conn.SetWriteDeadline(deadline); err != nil {
		return nil, d.fatal(err, "set write deadline")
	}
	if err := d.conn.WriteJSON(cmd); err != nil {
		return nil, d.fatal(err, "write command")
	}
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return nil, d.fatal(err, "set read deadline")
	}

	// Skip unsolicited events until our response arrives.
	for {
		var resp wsResponse
		if err := d.conn.ReadJSON(&resp); err != nil {
			return nil, d.fatal(err, "read response")
		}
		if resp.ID != cmd.ID {
			continue
		}
		if resp.Error != nil {
			if resp.Error.Code == "session_closed" || resp.Error.Code == "connection_lost" {
				return nil, flerrors.New(flerrors.ErrCodeSessionFatal, resp.Error.Message).
					WithContext("method", method)
			}
			return nil, flerrors.New(flerrors.ErrCodeStepAction, resp.Error.Message).
				WithContext("method", method).
				WithContext("code", resp.Error.Code)
		}
		return resp.Result, nil
	}
}

// fatal marks any transport-level failure as session-fatal: once the command
// channel errors the session state is unknown and the lease must be burned.
func (d *wsDriver) fatal(err error, op string) error {
	d.closed = true
	return flerrors.Wrap(err, flerrors.ErrCodeSessionFatal, op)
}

func (d *wsDriver) Navigate(ctx context.Context, url string) error {
	_, err := d.send(ctx, "navigate", map[string]any{"url": url})
	return err
}

func (d *wsDriver) Click(ctx context.Context, selector string) error {
	_, err := d.send(ctx, "click", map[string]any{"selector": selector})
	return err
}

func (d *wsDriver) Type(ctx context.Context, selector, text string) error {
	_, err := d.send(ctx, "type", map[string]any{"selector": selector, "text": text})
	return err
}

func (d *wsDriver) Scroll(ctx context.Context, target string) error {
	params := map[string]any{}
	if target != "" {
		params["target"] = target
	}
	_, err := d.send(ctx, "scroll", params)
	return err
}

func (d *wsDriver) WaitFor(ctx context.Context, selector string) error {
	_, err := d.send(ctx, "wait_for", map[string]any{"selector": selector})
	return err
}

type screenshotResult struct {
	Data string `json:"data"` // base64 PNG
}

func (d *wsDriver) Screenshot(ctx context.Context) ([]byte, error) {
	raw, err := d.send(ctx, "screenshot", map[string]any{"format": "png"})
	if err != nil {
		return nil, err
	}
	var result screenshotResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeStepAction, "decode screenshot response")
	}
	data, err := base64.StdEncoding.DecodeString(result.Data)
	if err != nil {
		return nil, flerrors.Wrap(err, flerrors.ErrCodeStepAction, "decode screenshot data")
	}
	if len(data) == 0 {
		return nil, flerrors.New(flerrors.ErrCodeStepAction, "empty screenshot")
	}
	return data, nil
}

func (d *wsDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	deadline := time.Now().Add(2 * time.Second)
	_ = d.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("close session connection: %w", err)
	}
	return nil
}
