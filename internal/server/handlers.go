package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"

	"pkdindustries/voicerag/internal/chat"
	"pkdindustries/voicerag/internal/core"
	"pkdindustries/voicerag/internal/session"
)

const maxSessionIDLen = 128

type chatRequest struct {
	Message string `json:"message"`
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type audioRequest struct {
	Audio string `json:"audio"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure reports a pipeline failure with its kind.
func writeFailure(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Kind: string(core.KindUpstream)}
	var e *core.Error
	if errors.As(err, &e) {
		resp.Kind = string(e.Kind)
		resp.ErrorType = e.UpstreamType
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

// sessionID returns the id named by the request, minting one when absent.
// The id is echoed in the response either way.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > maxSessionIDLen {
		writeError(w, http.StatusBadRequest, "session id too long")
		return "", false
	}
	w.Header().Set(SessionHeader, id)
	return id, true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "failed to read request body")
		}
		return nil, false
	}
	return body, true
}

func decodeJSON(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// decodeAudio accepts base64 text, falling back to the raw bytes when the body
// is not valid base64.
func decodeAudio(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(trimmed)))
	n, err := base64.StdEncoding.Decode(decoded, trimmed)
	if err != nil {
		return body
	}
	return decoded[:n]
}

// withSession runs fn holding the session's turn lock. It reports false when
// the lock could not be taken in time.
func (s *Server) withSession(r *http.Request, sess *session.Session, operation string, fn func(ctx context.Context)) bool {
	ctx, cancel := context.WithTimeout(r.Context(), s.lockWait)
	defer cancel()

	logger := core.WithSession(s.logger, sess.ID)
	return core.WithRequestLock(ctx, logger, sess.Lock(), operation, func() {
		fn(r.Context())
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var pcm []byte
	if isJSON(r) {
		var req audioRequest
		if err := decodeJSON(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		var err error
		if pcm, err = base64.StdEncoding.DecodeString(req.Audio); err != nil {
			writeError(w, http.StatusBadRequest, "audio must be base64 encoded")
			return
		}
	} else {
		pcm = decodeAudio(body)
	}

	if len(pcm) == 0 {
		writeError(w, http.StatusBadRequest, "No audio data provided")
		return
	}

	text, err := s.deps.Transcriber.Transcribe(r.Context(), pcm)
	if err != nil {
		s.logger.Errorw("transcribe_failed", "error", err)
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := decodeJSON(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "No message provided")
		return
	}

	sess := s.deps.Sessions.Get(id)
	s.metrics.SetActiveSessions(s.deps.Sessions.Len())

	var (
		reply chat.Reply
		err   error
	)
	if !s.withSession(r, sess, "chat", func(ctx context.Context) {
		reply, err = s.deps.Chat.Turn(ctx, sess, req.Message)
	}) {
		writeError(w, http.StatusServiceUnavailable, "session is busy with another request")
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req synthesizeRequest
	if err := decodeJSON(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "No text provided")
		return
	}

	audio := s.deps.Speech.Synthesize(r.Context(), req.Text, req.Voice)
	writeJSON(w, http.StatusOK, map[string]string{
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	if sess, exists := s.deps.Sessions.Lookup(id); exists {
		if !s.withSession(r, sess, "clear", func(context.Context) {
			sess.Clear()
		}) {
			writeError(w, http.StatusServiceUnavailable, "session is busy with another request")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"uptime":   time.Since(s.startTime).Round(time.Second).String(),
		"sessions": s.deps.Sessions.Len(),
	})
}
