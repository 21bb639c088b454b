package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/canopy-network/fastpath/authority"
	"github.com/canopy-network/fastpath/lib"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

const (
	SoftwareVersion = "0.1.0-alpha"
	ContentType     = "Content-Type"
	ApplicationJSON = "application/json; charset=utf-8"
	// request and response bodies of the authority routes use the canonical codec
	ApplicationCodec = "application/msgpack"

	shutdownTimeout = 5 * time.Second
)

// Server exposes one authority over http
type Server struct {
	state  *authority.State
	config lib.RPCConfig
	server *http.Server
	log    lib.LoggerI
}

// StatusResponse is the reply of the status route
type StatusResponse struct {
	Name           lib.AuthorityName `json:"name"`
	Epoch          lib.EpochID       `json:"epoch"`
	CommitteeSize  int               `json:"committeeSize"`
	NextCheckpoint uint64            `json:"nextCheckpoint"`
	Version        string            `json:"version"`
}

// NewServer constructs the rpc server of an authority
func NewServer(state *authority.State, config lib.RPCConfig, log lib.LoggerI) *Server {
	return &Server{state: state, config: config, log: log}
}

// Handler() returns the routes wrapped in the CORS policy and the request timeout
func (s *Server) Handler() http.Handler {
	cor := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS", "POST"},
	})
	timeout := time.Duration(s.config.TimeoutS) * time.Second
	return cor.Handler(http.TimeoutHandler(createRouter(s), timeout, ErrServerTimeout().Error()))
}

// Start() runs the rpc server in the background
func (s *Server) Start() {
	s.server = &http.Server{Addr: s.config.RPCAddress, Handler: s.Handler()}
	go func() {
		s.log.Infof("Starting RPC server at %s", s.config.RPCAddress)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(ErrServer(err).Error())
		}
	}()
}

// Stop() gracefully stops the rpc server
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Error(err.Error())
	}
}

// Status() reports who the authority is and where its checkpoints are
func (s *Server) Status(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	committee := s.state.Committee()
	status := &StatusResponse{
		Name:          s.state.Name,
		Epoch:         committee.Epoch,
		CommitteeSize: committee.Size(),
		Version:       SoftwareVersion,
	}
	if checkpoints := s.state.Checkpoints(); checkpoints != nil {
		status.NextCheckpoint = checkpoints.NextCheckpointSequence()
	}
	write(w, status, http.StatusOK)
}

// handle() decodes the request body, calls the authority and encodes its response; authority errors are
// returned as json with their module and code so clients can tell them apart
func handle[Req, Resp any](s *Server, call func(context.Context, *Req) (*Resp, lib.ErrorI)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		req := new(Req)
		if !s.unmarshal(w, r, req) {
			return
		}
		resp, err := call(r.Context(), req)
		if err != nil {
			write(w, err, http.StatusBadRequest)
			return
		}
		bz, err := lib.Marshal(resp)
		if err != nil {
			write(w, err, http.StatusInternalServerError)
			return
		}
		w.Header().Set(ContentType, ApplicationCodec)
		w.WriteHeader(http.StatusOK)
		if _, e := w.Write(bz); e != nil {
			s.log.Error(e.Error())
		}
	}
}

// unmarshal() reads a codec encoded body no larger than the configured limit
func (s *Server) unmarshal(w http.ResponseWriter, r *http.Request, ptr any) bool {
	defer func() { _ = r.Body.Close() }()
	bz, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodyBytes))
	if err != nil {
		write(w, ErrReadBody(err), http.StatusBadRequest)
		return false
	}
	if e := lib.Unmarshal(bz, ptr); e != nil {
		write(w, e, http.StatusBadRequest)
		return false
	}
	return true
}

// write marshaled json payload to w
func write(w http.ResponseWriter, payload any, code int) {
	w.Header().Set(ContentType, ApplicationJSON)
	w.WriteHeader(code)
	bz, _ := json.MarshalIndent(payload, "", "  ")
	_, _ = w.Write(bz)
}

// logHandler serves as a middleware that logs incoming RPC calls
type logHandler struct {
	path string
	h    httprouter.Handle
	log  lib.LoggerI
}

// Handle
func (h logHandler) Handle(resp http.ResponseWriter, req *http.Request, p httprouter.Params) {
	start := time.Now()
	h.h(resp, req, p)
	h.log.Debugf("%s %s took %s", req.Method, h.path, time.Since(start))
}
