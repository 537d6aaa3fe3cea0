package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"voxelgen/internal/export"
	"voxelgen/internal/voxel"
)

// Client requests chunks from a Server one at a time.
type Client struct {
	conn    *websocket.Conn
	codec   *export.Codec
	welcome Welcome
	seq     uint64
}

// Dial connects and completes the hello/welcome handshake.
func Dial(ctx context.Context, url string, codec *export.Codec) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{conn: conn, codec: codec}
	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Welcome() Welcome {
	return c.welcome
}

func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *Client) handshake(ctx context.Context) error {
	c.seq++
	b, err := encodeEnvelope(MessageHello, c.seq, Hello{ProtocolVersion: ProtocolVersion, Client: "voxelgen"})
	if err != nil {
		return err
	}
	c.applyDeadline(ctx)
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	env, err := decodeEnvelope(msg)
	if err != nil {
		return err
	}
	if env.Type != MessageWelcome {
		return fmt.Errorf("expected welcome, got %s", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &c.welcome); err != nil {
		return fmt.Errorf("decode welcome: %w", err)
	}
	return nil
}

func (c *Client) applyDeadline(ctx context.Context) {
	d, _ := ctx.Deadline()
	_ = c.conn.SetReadDeadline(d)
	_ = c.conn.SetWriteDeadline(d)
}

// Chunk requests the chunk at pos and waits for it. Server side failures are
// returned as *ErrorReply.
func (c *Client) Chunk(ctx context.Context, pos voxel.ChunkPos) (*voxel.Chunk, error) {
	c.seq++
	seq := c.seq
	b, err := encodeEnvelope(MessageChunkRequest, seq, ChunkRequest{Pos: pos})
	if err != nil {
		return nil, err
	}
	c.applyDeadline(ctx)
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return nil, fmt.Errorf("send chunk request: %w", err)
	}

	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read chunk %v: %w", pos, err)
		}
		switch kind {
		case websocket.BinaryMessage:
			h, _, err := export.ReadHeader(msg)
			if err != nil {
				return nil, err
			}
			if h.Pos != pos {
				continue
			}
			return c.codec.Decode(msg)
		case websocket.TextMessage:
			env, err := decodeEnvelope(msg)
			if err != nil {
				return nil, err
			}
			if env.Type != MessageError || env.Seq != seq {
				continue
			}
			var reply ErrorReply
			if err := json.Unmarshal(env.Payload, &reply); err != nil {
				return nil, fmt.Errorf("decode error reply: %w", err)
			}
			return nil, &reply
		}
	}
}
