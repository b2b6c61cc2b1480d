package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/revlabs/revvoice/pkg/gateway/live/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// ErrClosed is returned by send methods after Close.
var ErrClosed = errors.New("client: connection closed")

// Speaker plays a reply out loud. Speak blocks until playback finishes or the
// context is canceled; the client reports playback completion to the server
// when Speak returns nil.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Recorder captures one utterance of microphone audio. Record blocks until
// the user stops speaking and returns the encoded recording plus its MIME
// type.
type Recorder interface {
	Record(ctx context.Context) (data []byte, mimeType string, err error)
}

// Event is one decoded server frame, delivered in arrival order on the
// channel returned by Events.
type Event struct {
	Frame any
	Err   error
}

// Options configures Dial.
type Options struct {
	// Speaker, when set, is invoked for every ai_response frame. A
	// playback_done frame is sent automatically after it returns nil.
	Speaker Speaker

	// ConnectTimeout bounds the websocket handshake. Defaults to 15s.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each frame write. Zero means no deadline.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Client is a websocket voice-conversation client. It keeps a View of the
// server's state and optionally drives a Speaker for replies.
type Client struct {
	conn    *websocket.Conn
	speaker Speaker
	logger  *slog.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	viewMu sync.Mutex
	view   View

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	speakWG sync.WaitGroup
}

// Dial connects to a voice endpoint such as ws://host:5000/voice and starts
// the read loop. The caller should drain Events and call Close when done.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{
		conn:         conn,
		speaker:      opts.Speaker,
		logger:       logger,
		writeTimeout: opts.WriteTimeout,
		events:       make(chan Event, 16),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the stream of decoded server frames. The channel is closed
// when the connection drops or Close is called.
func (c *Client) Events() <-chan Event {
	if c == nil {
		return nil
	}
	return c.events
}

// View returns a copy of the mirrored conversation state.
func (c *Client) View() View {
	if c == nil {
		return View{}
	}
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	return c.view
}

// Start begins a conversation.
func (c *Client) Start() error {
	return c.sendJSON(protocol.ClientStart{Type: "start"})
}

// SendAudio submits one recorded utterance. Raw audio bytes are
// base64-encoded on the wire; mimeType defaults to the server's expected
// format when empty.
func (c *Client) SendAudio(data []byte, mimeType string) error {
	if len(data) == 0 {
		return errors.New("client: empty audio recording")
	}
	err := c.sendJSON(protocol.ClientAudio{
		Type:   "audio",
		Audio:  base64.StdEncoding.EncodeToString(data),
		Format: mimeType,
	})
	if err != nil {
		return err
	}
	c.viewMu.Lock()
	c.view.NoteAudioSent()
	c.viewMu.Unlock()
	return nil
}

// RecordAndSend captures one utterance from the recorder and submits it.
func (c *Client) RecordAndSend(ctx context.Context, rec Recorder) error {
	data, mimeType, err := rec.Record(ctx)
	if err != nil {
		return fmt.Errorf("client: record: %w", err)
	}
	return c.SendAudio(data, mimeType)
}

// Interrupt cuts off the assistant mid-reply or mid-turn.
func (c *Client) Interrupt() error {
	return c.sendJSON(protocol.ClientInterrupt{Type: "interrupt"})
}

// PlaybackDone reports that the client finished playing the last reply. It is
// sent automatically when a Speaker is configured.
func (c *Client) PlaybackDone() error {
	return c.sendJSON(protocol.ClientPlaybackDone{Type: "playback_done"})
}

// End finishes the conversation. The connection stays open; the server
// replies with an ended frame.
func (c *Client) End() error {
	return c.sendJSON(protocol.ClientEnd{Type: "end"})
}

// Close tears down the connection. Safe to call more than once and on a nil
// client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
		c.speakWG.Wait()
	})
	return err
}

func (c *Client) sendJSON(msg any) error {
	if c == nil || c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.events <- Event{Err: err}
			}
			return
		}
		frame, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.logger.Debug("discarding unrecognized frame", "error", err)
			continue
		}

		c.viewMu.Lock()
		c.view.Apply(frame)
		c.viewMu.Unlock()

		if reply, ok := frame.(protocol.ServerAIResponse); ok && c.speaker != nil {
			c.speakWG.Add(1)
			go c.speak(reply.Text)
		}

		c.events <- Event{Frame: frame}
	}
}

func (c *Client) speak(text string) {
	defer c.speakWG.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := c.speaker.Speak(ctx, text); err != nil {
		c.logger.Debug("playback aborted", "error", err)
		return
	}
	if err := c.PlaybackDone(); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Debug("playback_done not delivered", "error", err)
	}
}
