package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/surajgopal85/talktor/internal/conversation"
	"github.com/surajgopal85/talktor/internal/segmenter"
	"github.com/surajgopal85/talktor/pkg/audio"
	"github.com/surajgopal85/talktor/pkg/types"
)

// Client-to-server control message types on the conversation socket.
const (
	msgStartListening   = "start_listening"
	msgStopListening    = "stop_listening"
	msgAudioChunkStream = "audio_chunk_stream"
	msgAudioChunk       = "audio_chunk" // legacy name still sent by older clients
	msgTranscription    = "transcription"
	msgEndConversation  = "end_conversation"
)

// encodingOpus marks audio chunks that arrive Opus-encoded. Everything else
// is treated as PCM16.
const encodingOpus = "opus"

// clientMessage is the envelope for everything a participant sends on the
// conversation socket. AudioData carries base64 audio for the chunk
// messages; Text and Language carry pre-transcribed input.
type clientMessage struct {
	Type      string `json:"type"`
	AudioData string `json:"audio_data,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Text      string `json:"text,omitempty"`
	Language  string `json:"language,omitempty"`
}

// errConversationEnded signals a clean read-loop exit after the client asked
// to end the conversation.
var errConversationEnded = errors.New("conversation ended")

// wsChannel adapts one WebSocket connection to the conversation channel
// contract. Broadcast and turn goroutines call Send concurrently;
// coder/websocket serialises concurrent writers, so no extra locking is
// needed here. Each write is bounded by the server's write timeout so one
// stalled participant cannot wedge a broadcast.
type wsChannel struct {
	conn    *websocket.Conn
	timeout time.Duration
}

var _ conversation.Channel = (*wsChannel)(nil)

func (c *wsChannel) Send(msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("server: marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// handleConversationWS handles GET /conversation/ws/{sessionID}/{role}. The
// role and session are validated before the upgrade so protocol mistakes
// surface as plain HTTP statuses instead of opaque handshake failures.
func (s *Server) handleConversationWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	role := types.SpeakerRole(r.PathValue("role"))
	if !role.IsValid() {
		http.Error(w, "role must be doctor or patient", http.StatusBadRequest)
		return
	}
	if _, err := s.orchestrator.Session(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Participants connect from the clinic front end, which is served
		// from its own origin.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed",
			"session_id", sessionID, "role", role, "error", err)
		return
	}

	pc := &participantConn{
		srv:       s,
		conn:      conn,
		ch:        &wsChannel{conn: conn, timeout: s.writeTimeout},
		sessionID: sessionID,
		role:      role,
		log:       s.log.With("session_id", sessionID, "role", role),
	}
	pc.run(r.Context())
}

// participantConn is the server side of one participant's conversation
// socket.
type participantConn struct {
	srv       *Server
	conn      *websocket.Conn
	ch        *wsChannel
	sessionID string
	role      types.SpeakerRole
	log       *slog.Logger

	// opus carries decoder state across the participant's frames. Created
	// on the first Opus chunk.
	opus *audio.OpusDecoder
}

// run registers the participant, consumes messages until the connection or
// the conversation ends, and tears the registration down again.
func (pc *participantConn) run(ctx context.Context) {
	reg := pc.srv.orchestrator.Registry()
	reg.Connect(pc.sessionID, pc.role, pc.ch)

	defer func() {
		reg.Disconnect(pc.sessionID, pc.role)
		pc.srv.segmenter.Stop(pc.sessionID, pc.role)
		_ = pc.conn.Close(websocket.StatusNormalClosure, "closing")
		pc.log.Info("participant disconnected")
	}()

	for {
		_, data, err := pc.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			pc.log.Debug("socket read ended", "error", err)
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			pc.sendError("message is not valid JSON")
			continue
		}
		if err := pc.dispatch(ctx, msg); err != nil {
			if errors.Is(err, errConversationEnded) {
				return
			}
			pc.sendError(err.Error())
		}
	}
}

// dispatch routes one client message. A returned error is reported back to
// the client; errConversationEnded closes the socket instead.
func (pc *participantConn) dispatch(ctx context.Context, msg clientMessage) error {
	switch msg.Type {
	case msgStartListening:
		pc.srv.segmenter.Start(pc.sessionID, pc.role)
		pc.ack("listening_started", map[string]any{"vad_enabled": true, "role": pc.role})
		return nil

	case msgStopListening:
		pc.srv.segmenter.Stop(pc.sessionID, pc.role)
		pc.ack("listening_stopped", map[string]any{"role": pc.role})
		return nil

	case msgAudioChunkStream, msgAudioChunk:
		return pc.ingestAudio(ctx, msg)

	case msgTranscription:
		if strings.TrimSpace(msg.Text) == "" {
			return errors.New("transcription text is required")
		}
		return pc.srv.orchestrator.ProcessTranscription(ctx, pc.sessionID, pc.role, msg.Text, msg.Language)

	case msgEndConversation:
		if _, err := pc.srv.orchestrator.EndSession(ctx, pc.sessionID); err != nil {
			return err
		}
		return errConversationEnded

	default:
		pc.log.Warn("unknown message type", "type", msg.Type)
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// ingestAudio decodes one audio chunk and feeds it to the segmenter. A chunk
// that completes an utterance queues a conversation turn.
func (pc *participantConn) ingestAudio(ctx context.Context, msg clientMessage) error {
	if msg.AudioData == "" {
		return errors.New("audio_data is required")
	}
	pcm, err := base64.StdEncoding.DecodeString(msg.AudioData)
	if err != nil {
		return errors.New("audio_data is not valid base64")
	}
	if msg.Encoding == encodingOpus {
		if pc.opus == nil {
			dec, err := audio.NewOpusDecoder()
			if err != nil {
				return fmt.Errorf("opus decoder unavailable: %w", err)
			}
			pc.opus = dec
		}
		pcm, err = pc.opus.Decode(pcm)
		if err != nil {
			return fmt.Errorf("opus frame rejected: %w", err)
		}
	}

	utt, err := pc.srv.segmenter.Ingest(pc.sessionID, pc.role, pcm)
	if err != nil {
		if errors.Is(err, segmenter.ErrNoStream) {
			return errors.New("not listening; send start_listening first")
		}
		return err
	}
	if utt == nil {
		return nil
	}
	return pc.srv.orchestrator.ProcessUtterance(ctx, pc.sessionID, pc.role, *utt)
}

// ack sends a system status update to this participant only.
func (pc *participantConn) ack(status string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["status"] = status
	msg := pc.srv.systemMessage(pc.sessionID, types.MessageSystemStatus, status, meta)
	if err := pc.ch.Send(msg); err != nil {
		pc.log.Debug("status not delivered", "status", status, "error", err)
	}
}

// sendError reports a rejected message to this participant only.
func (pc *participantConn) sendError(reason string) {
	msg := pc.srv.systemMessage(pc.sessionID, types.MessageError, reason, nil)
	if err := pc.ch.Send(msg); err != nil {
		pc.log.Debug("error not delivered", "reason", reason, "error", err)
	}
}
