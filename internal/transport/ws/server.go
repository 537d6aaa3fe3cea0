package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelgen/internal/config"
	"voxelgen/internal/export"
	"voxelgen/internal/logging"
	"voxelgen/internal/terrain"
	"voxelgen/internal/voxel"
)

const (
	handshakeTimeout = 5 * time.Second
	maxQueueCap      = 64
)

// Server streams voxelized chunks to websocket clients on request.
type Server struct {
	gen    terrain.Generator
	codec  *export.Codec
	pool   *voxel.Pool
	cfg    config.ServerConfig
	digest string
	logger *zap.Logger

	upgrader websocket.Upgrader

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	conns  sync.WaitGroup
}

type Option func(*Server)

// WithPool voxelizes through p; requests beyond its budget are answered with
// a busy error.
func WithPool(p *voxel.Pool) Option {
	return func(s *Server) { s.pool = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(gen terrain.Generator, codec *export.Codec, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		gen:    gen,
		codec:  codec,
		cfg:    cfg,
		digest: gen.Config().Digest(),
		done:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("ws")
	return s
}

// Close disconnects every client and waits for their handlers to return.
// Connections arriving afterwards are refused.
func (s *Server) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
	s.conns.Wait()
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns.Add(1)
	return true
}

// Routes returns the HTTP routes served by the chunk server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	return mux
}

type frame struct {
	kind int
	data []byte
}

type request struct {
	seq uint64
	pos voxel.ChunkPos
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.track() {
			http.Error(rw, "server closing", http.StatusServiceUnavailable)
			return
		}
		defer s.conns.Done()

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.logger.Debug("upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		maxQ, ok := s.handshake(conn)
		if !ok {
			return
		}
		log := s.logger.With(zap.String("remote", r.RemoteAddr))
		log.Info("client connected", zap.Int("max_queue", maxQ))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan frame, maxQ)
		requests := make(chan request, maxQ)

		// Close unblocks the reader loop below.
		go func() {
			select {
			case <-s.done:
				_ = conn.Close()
			case <-ctx.Done():
			}
		}()

		// Writer goroutine.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case f := <-out:
					_ = conn.SetWriteDeadline(deadline(s.cfg.WriteTimeout.Duration()))
					if err := conn.WriteMessage(f.kind, f.data); err != nil {
						log.Debug("write failed", zap.Error(err))
						cancel()
						return
					}
				}
			}
		}()

		// Generation goroutine; chunks are answered in request order.
		genDone := make(chan struct{})
		go func() {
			defer close(genDone)
			for {
				select {
				case <-ctx.Done():
					return
				case req := <-requests:
					f := s.serveChunk(req, log)
					select {
					case out <- f:
					case <-ctx.Done():
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(deadline(s.cfg.ReadTimeout.Duration()))
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("read failed", zap.Error(err))
				}
				break
			}
			if kind != websocket.TextMessage {
				s.send(ctx, out, s.errorFrame(0, CodeBadRequest, "expected text frame", nil))
				continue
			}
			env, err := decodeEnvelope(msg)
			if err != nil {
				s.send(ctx, out, s.errorFrame(0, CodeBadRequest, err.Error(), nil))
				continue
			}
			if env.Type != MessageChunkRequest {
				s.send(ctx, out, s.errorFrame(env.Seq, CodeBadRequest, "unexpected message "+string(env.Type), nil))
				continue
			}
			var cr ChunkRequest
			if err := json.Unmarshal(env.Payload, &cr); err != nil {
				s.send(ctx, out, s.errorFrame(env.Seq, CodeBadRequest, "decode chunk request: "+err.Error(), nil))
				continue
			}
			select {
			case requests <- request{seq: env.Seq, pos: cr.Pos}:
			default:
				s.send(ctx, out, s.errorFrame(env.Seq, CodeBusy, "request queue full", &cr.Pos))
			}
		}

		cancel()
		<-writerDone
		<-genDone
		log.Info("client disconnected")
	}
}

// deadline turns a timeout into an absolute deadline; zero disables it.
func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func (s *Server) send(ctx context.Context, out chan<- frame, f frame) {
	select {
	case out <- f:
	case <-ctx.Done():
	}
}

func (s *Server) serveChunk(req request, log *zap.Logger) frame {
	start := time.Now()
	var (
		chunk *voxel.Chunk
		err   error
	)
	if s.pool != nil {
		chunk, err = s.pool.Voxelize(req.pos, s.gen)
	} else {
		chunk = voxel.Voxelize(req.pos, s.gen)
	}
	if errors.Is(err, voxel.ErrBufferBudget) {
		return s.errorFrame(req.seq, CodeBusy, err.Error(), &req.pos)
	}
	if err != nil {
		return s.errorFrame(req.seq, CodeInternal, err.Error(), &req.pos)
	}

	data, err := s.codec.Encode(chunk)
	if s.pool != nil {
		s.pool.Release(chunk)
	}
	if err != nil {
		return s.errorFrame(req.seq, CodeBadRequest, err.Error(), &req.pos)
	}
	log.Debug("chunk served",
		zap.Stringer("pos", req.pos),
		zap.Int("solid", chunk.Solid),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))
	return frame{kind: websocket.BinaryMessage, data: data}
}

func (s *Server) errorFrame(seq uint64, code, msg string, pos *voxel.ChunkPos) frame {
	b, err := encodeEnvelope(MessageError, seq, ErrorReply{Code: code, Message: msg, Pos: pos})
	if err != nil {
		b = []byte(`{"type":"error"}`)
	}
	return frame{kind: websocket.TextMessage, data: b}
}

func (s *Server) handshake(conn *websocket.Conn) (int, bool) {
	reject := func(reason string) (int, bool) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
			time.Now().Add(time.Second))
		return 0, false
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, false
	}
	env, err := decodeEnvelope(msg)
	if err != nil || env.Type != MessageHello {
		return reject("expected hello")
	}
	var hello Hello
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		return reject("bad hello payload")
	}
	if hello.ProtocolVersion != ProtocolVersion {
		return reject("bad protocolVersion")
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = s.cfg.MaxQueue
	}
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > maxQueueCap {
		maxQ = maxQueueCap
	}

	cfg := s.gen.Config()
	generator := cfg.Generator
	if generator == "" {
		generator = config.GeneratorMultiNoise
	}
	b, err := encodeEnvelope(MessageWelcome, env.Seq, Welcome{
		ProtocolVersion: ProtocolVersion,
		Terrain:         cfg.Name,
		Generator:       generator,
		Seed:            cfg.Seed,
		Digest:          s.digest,
		ChunkSize:       voxel.ChunkSize,
		PaddedSize:      voxel.PaddedSize,
		MaxQueue:        maxQ,
	})
	if err != nil {
		return 0, false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return 0, false
	}
	return maxQ, true
}
