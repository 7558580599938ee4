// Package service implements the line delimited JSON-RPC control server
package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agpm/internal/adapters/github"
	"agpm/internal/core/rules"
	perr "agpm/internal/platform/errors"
	"agpm/internal/platform/logger"
)

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeMergeRefused   = -32001
	codeDeleteRefused  = -32002
)

const protocolVersion = "0.1"

// Backend is the slice of the remote client the control surface exposes
type Backend interface {
	ListRepositories(ctx context.Context) ([]github.RepoRef, error)
	ListBranches(ctx context.Context, repo github.RepoRef) ([]github.Branch, error)
	ListPullRequests(
		ctx context.Context,
		repo github.RepoRef,
		includeMerged bool,
		perPage int,
		since time.Duration,
	) ([]github.PullRequest, error)
	MergePullRequest(ctx context.Context, repo github.RepoRef, number int, gate rules.MergeGate) (bool, error)
	ClosePullRequest(ctx context.Context, repo github.RepoRef, number int) (bool, error)
	DeleteBranch(ctx context.Context, repo github.RepoRef, ref string, prot *rules.Protection) (bool, error)
}

// Settings configures the listener
type Settings struct {
	BindAddress string
	Port        int

	// MaxClients stops the server after that many connections; 0 keeps
	// accepting until Stop
	MaxClients int
}

// Server accepts one connection at a time and answers requests sequentially
type Server struct {
	cfg     Settings
	backend Backend
	gate    rules.MergeGate
	prot    *rules.Protection
	log     logger.Logger

	// Sink mirrors accept/request/response lines to an operator display
	Sink func(line string)

	ln      net.Listener
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	started bool
}

// New constructs the server; Start binds the socket
func New(cfg Settings, backend Backend, gate rules.MergeGate, prot *rules.Protection, log logger.Logger) *Server {
	return &Server{
		cfg:     cfg,
		backend: backend,
		gate:    gate,
		prot:    prot,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Start binds the listener and launches the accept loop
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "control listen %s", addr)
	}
	s.ln = ln
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("control server listening")
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the bound address, useful when Port was 0
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener to unblock accept and waits for the loop.
// Idempotent, and a no-op when the server never started
func (s *Server) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.started
		s.mu.Unlock()
		if s.ln != nil {
			_ = s.ln.Close()
		}
		if !started {
			close(s.done)
		}
	})
	<-s.done
}

func (s *Server) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.done)
	served := 0
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopping() {
				return
			}
			s.emit("accept error: " + err.Error())
			s.log.Warn().Err(err).Msg("control accept failed")
			return
		}
		session := uuid.NewString()
		s.emit("client connected " + session)
		shutdown := s.handleConn(ctx, conn, session)
		s.emit("client disconnected " + session)
		served++
		if shutdown || (s.cfg.MaxClients > 0 && served >= s.cfg.MaxClients) {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			_ = s.ln.Close()
			return
		}
	}
}

// wire shapes

type request struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// handleConn serves one connection until EOF or shutdown; returns true when a
// shutdown request was handled
func (s *Server) handleConn(ctx context.Context, conn net.Conn, session string) (shutdown bool) {
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	w := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.emit("request " + session + ": " + line)

		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.reply(w, response{Jsonrpc: "2.0", Error: &rpcError{codeParseError, "parse error"}, ID: json.RawMessage("null")})
			continue
		}
		notification := len(req.ID) == 0 || string(req.ID) == "null"

		res, rerr, stop := s.dispatch(ctx, req)
		if notification {
			// notifications never produce an output line
			if stop {
				return true
			}
			continue
		}
		resp := response{Jsonrpc: "2.0", ID: req.ID}
		if rerr != nil {
			resp.Error = rerr
		} else {
			resp.Result = res
		}
		s.reply(w, resp)
		if stop {
			return true
		}
	}
	return false
}

func (s *Server) reply(w *bufio.Writer, resp response) {
	b, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("control response marshal failed")
		return
	}
	_, _ = w.Write(b)
	_ = w.WriteByte('\n')
	_ = w.Flush()
	s.emit("response: " + string(b))
}

func (s *Server) emit(line string) {
	if s.Sink != nil {
		s.Sink(line)
	}
}

// dispatch routes one request; stop reports a shutdown
func (s *Server) dispatch(ctx context.Context, req request) (any, *rpcError, bool) {
	if req.Jsonrpc != "2.0" || req.Method == "" {
		return nil, &rpcError{codeInvalidRequest, "invalid request"}, false
	}
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"repositories": true,
				"pullRequests": true,
				"branches":     true,
			},
		}, nil, false

	case "ping":
		return map[string]any{"message": "pong"}, nil, false

	case "shutdown":
		return map[string]any{"acknowledged": true}, nil, true

	case "listRepositories":
		repos, err := s.backend.ListRepositories(ctx)
		if err != nil {
			return nil, internalError(err), false
		}
		out := make([]map[string]any, 0, len(repos))
		for _, r := range repos {
			out = append(out, map[string]any{"owner": r.Owner, "name": r.Name, "slug": r.Slug()})
		}
		return map[string]any{"repositories": out}, nil, false

	case "listBranches":
		repo, rerr := repoParams(req.Params)
		if rerr != nil {
			return nil, rerr, false
		}
		branches, err := s.backend.ListBranches(ctx, repo)
		if err != nil {
			return nil, internalError(err), false
		}
		names := make([]string, 0, len(branches))
		for _, b := range branches {
			names = append(names, b.Ref)
		}
		return map[string]any{"branches": names}, nil, false

	case "listPullRequests":
		var p struct {
			Owner         string `json:"owner"`
			Repo          string `json:"repo"`
			IncludeMerged bool   `json:"includeMerged"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil || p.Owner == "" || p.Repo == "" {
			return nil, &rpcError{codeInvalidParams, "owner and repo required"}, false
		}
		repo := github.RepoRef{Owner: p.Owner, Name: p.Repo}
		pulls, err := s.backend.ListPullRequests(ctx, repo, p.IncludeMerged, 0, 0)
		if err != nil {
			return nil, internalError(err), false
		}
		out := make([]map[string]any, 0, len(pulls))
		for _, pr := range pulls {
			out = append(out, map[string]any{
				"number": pr.Number,
				"title":  pr.Title,
				"merged": pr.Merged,
				"owner":  pr.Owner,
				"repo":   pr.Name,
			})
		}
		return map[string]any{"pullRequests": out}, nil, false

	case "mergePullRequest":
		repo, number, rerr := pullParams(req.Params)
		if rerr != nil {
			return nil, rerr, false
		}
		ok, err := s.backend.MergePullRequest(ctx, repo, number, s.gate)
		if err != nil {
			return nil, internalError(err), false
		}
		if !ok {
			return nil, &rpcError{codeMergeRefused, "merge refused"}, false
		}
		return map[string]any{"merged": true}, nil, false

	case "closePullRequest":
		repo, number, rerr := pullParams(req.Params)
		if rerr != nil {
			return nil, rerr, false
		}
		ok, err := s.backend.ClosePullRequest(ctx, repo, number)
		if err != nil {
			return nil, internalError(err), false
		}
		if !ok {
			return nil, &rpcError{codeMergeRefused, "close refused"}, false
		}
		return map[string]any{"closed": true}, nil, false

	case "deleteBranch":
		var p struct {
			Owner  string `json:"owner"`
			Repo   string `json:"repo"`
			Branch string `json:"branch"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil || p.Owner == "" || p.Repo == "" || p.Branch == "" {
			return nil, &rpcError{codeInvalidParams, "owner, repo, and branch required"}, false
		}
		ok, err := s.backend.DeleteBranch(ctx, github.RepoRef{Owner: p.Owner, Name: p.Repo}, p.Branch, s.prot)
		if err != nil {
			return nil, internalError(err), false
		}
		if !ok {
			return nil, &rpcError{codeDeleteRefused, "delete refused"}, false
		}
		return map[string]any{"deleted": true}, nil, false

	default:
		return nil, &rpcError{codeMethodNotFound, "method not found"}, false
	}
}

func unmarshalParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return perr.Newf(perr.ErrorCodeInvalidArgument, "params required")
	}
	return json.Unmarshal(raw, into)
}

func repoParams(raw json.RawMessage) (github.RepoRef, *rpcError) {
	var p struct {
		Owner string `json:"owner"`
		Repo  string `json:"repo"`
	}
	if err := unmarshalParams(raw, &p); err != nil || p.Owner == "" || p.Repo == "" {
		return github.RepoRef{}, &rpcError{codeInvalidParams, "owner and repo required"}
	}
	return github.RepoRef{Owner: p.Owner, Name: p.Repo}, nil
}

func pullParams(raw json.RawMessage) (github.RepoRef, int, *rpcError) {
	var p struct {
		Owner  string `json:"owner"`
		Repo   string `json:"repo"`
		Number int    `json:"number"`
	}
	if err := unmarshalParams(raw, &p); err != nil || p.Owner == "" || p.Repo == "" || p.Number <= 0 {
		return github.RepoRef{}, 0, &rpcError{codeInvalidParams, "owner, repo, and number required"}
	}
	return github.RepoRef{Owner: p.Owner, Name: p.Repo}, p.Number, nil
}

func internalError(err error) *rpcError {
	return &rpcError{codeInternalError, err.Error()}
}
