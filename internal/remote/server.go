package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hypergolix/hypergolix/internal/gao"
	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/persistence"
	"github.com/hypergolix/hypergolix/internal/postman"
)

// SharedSecretHeader is the header a connecting peer must present when the
// server is configured with a shared secret, mirroring arkeep's
// "agent-secret" gRPC metadata key adapted to an HTTP header since the
// websocket handshake is a plain HTTP request.
const SharedSecretHeader = "X-Hypergolix-Secret"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20 // containers can carry arbitrary payloads, unlike arkeep's control-only frames
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bookie is the narrow Binders/Debinders surface query_bindings and
// query_debindings answer from.
type Bookie interface {
	Binders(target ghid.Ghid) []ghid.Ghid
	Debinders(g ghid.Ghid) []ghid.Ghid
}

// Server is the remote peer protocol's server side: other peers (or a
// downstream node treating this process as its upstream) dial in here.
// Grounded on arkeep's internal/websocket.Hub plus internal/grpc server's
// shared-secret check, adapted from gRPC metadata to a websocket handshake
// header since this module does not use gRPC (see DESIGN.md).
type Server struct {
	core      *persistence.Core
	librarian gao.Librarian
	bookie    Bookie
	postman   *postman.Postman

	sharedSecret string
	logger       *zap.Logger
}

// Config wires Server's dependencies.
type Config struct {
	Core      *persistence.Core
	Librarian gao.Librarian
	Bookie    Bookie
	Postman   *postman.Postman

	// SharedSecret, if set, must be presented by every connecting peer in
	// the X-Hypergolix-Secret header. Left empty, auth is disabled —
	// development mode only, same tradeoff arkeep's grpc.Server.Config
	// documents for its own SharedSecret.
	SharedSecret string

	Logger *zap.Logger
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		core:         cfg.Core,
		librarian:    cfg.Librarian,
		bookie:       cfg.Bookie,
		postman:      cfg.Postman,
		sharedSecret: cfg.SharedSecret,
		logger:       logger.Named("remote.server"),
	}
}

// ServeHTTP upgrades the request to a websocket connection after checking
// the shared secret, then runs the connection until it closes. Intended to
// be mounted at a single path (e.g. "/remote") on the process's internal
// listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.sharedSecret != "" && r.Header.Get(SharedSecretHeader) != s.sharedSecret {
		http.Error(w, "invalid shared secret", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &serverConn{
		server: s,
		ws:     ws,
		send:   make(chan Envelope, sendBufferSize),
		subs:   make(map[ghid.Ghid]*postman.Subscription),
		logger: s.logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}

	// The connection outlives this HTTP handler call once upgraded, so its
	// dispatch goroutines run under their own context rather than one tied
	// to the original request (which the net/http server cancels the
	// instant ServeHTTP returns).
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.run(connCtx)
}

// ListenAndServe is a convenience wrapper for standalone deployment; most
// callers instead mount Server as a handler on an existing mux (see
// cmd/hypergolixd).
func (s *Server) ListenAndServe(ctx context.Context, listenAddr string) error {
	httpServer := &http.Server{Addr: listenAddr, Handler: s}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("remote server listening", zap.String("addr", listenAddr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
