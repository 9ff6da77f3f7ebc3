// Package server hosts the editing engine behind an HTTP listener: a
// websocket session endpoint for the browser UI, health probes, and the
// Prometheus metrics scrape handler.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/fabelwerk/redakt/internal/health"
	"github.com/fabelwerk/redakt/internal/observe"
	"github.com/fabelwerk/redakt/internal/playback"
	"github.com/fabelwerk/redakt/internal/session"
	"github.com/fabelwerk/redakt/pkg/types"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// Config holds the server's dependencies.
type Config struct {
	// ListenAddr is the address the HTTP listener binds to.
	ListenAddr string

	// Version is reported by the health endpoints.
	Version string

	// Manager owns the editing sessions this server exposes.
	Manager *Manager

	// PlaybackOptions tune every connection's synchronizer.
	PlaybackOptions playback.Options

	// RestrictToFiltered is the restricted-playback default applied to
	// ticks whose payload leaves the mode unset.
	RestrictToFiltered bool

	// Checks are forwarded to the readiness probe.
	Checks []health.Checker
}

// Server is the websocket host boundary. Create with [New], drive with
// [Server.Run], stop with [Server.Shutdown].
type Server struct {
	manager  *Manager
	pbOpts   playback.Options
	restrict bool
	httpSrv  *http.Server
}

// New assembles the route table and returns an unstarted server.
func New(cfg Config) *Server {
	s := &Server{
		manager:  cfg.Manager,
		pbOpts:   cfg.PlaybackOptions,
		restrict: cfg.RestrictToFiltered,
	}

	mux := http.NewServeMux()
	health.New(cfg.Version, cfg.Checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /session", s.handleSession)

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Run serves until ctx is cancelled or the listener fails. A clean
// [Server.Shutdown] is reported as nil.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %q: %w", s.httpSrv.Addr, err)
	}
	slog.Info("server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	}
}

// Shutdown closes every open session and drains the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.manager.CloseAll(ctx)
	return s.httpSrv.Shutdown(ctx)
}

// handleSession upgrades the request and runs the per-connection loop.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session aborted")

	c := &client{srv: s, conn: conn}
	c.loop(r.Context())

	conn.Close(websocket.StatusNormalClosure, "bye")
}

// client is one websocket connection. A connection edits at most one
// transcript at a time, selected by the open op.
type client struct {
	srv  *Server
	conn *websocket.Conn

	transcript string
	sess       *session.Session
	sync       *playback.Synchronizer

	// Per-tick playback state fed to the synchronizer's callbacks.
	visible  map[string]bool
	editing  bool
	commands []playbackCommand
}

var _ playback.Scroller = (*client)(nil)
var _ playback.Viewport = (*client)(nil)

func (c *client) loop(ctx context.Context) {
	defer func() {
		if c.transcript != "" {
			// The request context is gone once the connection drops.
			c.srv.manager.Release(context.WithoutCancel(ctx), c.transcript)
		}
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				slog.Debug("websocket read ended", "err", err)
			}
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.write(ctx, errorOf(c.transcript, fmt.Errorf("server: parse request: %w", err)))
			continue
		}
		c.handle(ctx, req)
	}
}

func (c *client) handle(ctx context.Context, req request) {
	if req.Op == opOpen {
		c.handleOpen(ctx, req)
		return
	}
	if c.sess == nil {
		c.write(ctx, errorOf("", fmt.Errorf("server: no transcript open; send %q first", opOpen)))
		return
	}

	var err error
	recompute := false

	switch req.Op {
	case opSave:
		err = c.srv.manager.Save(ctx, c.transcript)
	case opClose:
		c.srv.manager.Release(ctx, c.transcript)
		c.transcript, c.sess, c.sync = "", nil, nil
		c.write(ctx, stateMessage{Type: "closed"})
		return
	case opRefresh:
		recompute = true

	case opSetFilter:
		if req.Filter == nil {
			err = fmt.Errorf("server: %s requires a filter payload", req.Op)
		} else {
			c.sess.SetFilterParams(*req.Filter)
		}
	case opSetSpellcheck:
		if req.Spellcheck == nil {
			err = fmt.Errorf("server: %s requires a spellcheck payload", req.Op)
		} else {
			err = c.srv.manager.ReloadCheckers(c.transcript, *req.Spellcheck)
			recompute = err == nil
		}
	case opSetGlossary:
		c.sess.SetEntries(req.Entries)
		recompute = true
	case opIgnoreMatch:
		c.sess.IgnoreLexiconMatch(req.Term, req.Surface)
		recompute = true

	case opApplyText:
		err = c.sess.ApplyText(req.Updates)
		recompute = err == nil
	case opSplit:
		_, err = c.sess.SplitSegment(req.SegmentID, req.WordIndex)
		recompute = err == nil
	case opMerge:
		err = c.sess.MergeWithNext(req.SegmentID)
		recompute = err == nil
	case opSetSpeaker:
		err = c.sess.SetSpeaker(req.SegmentID, req.SpeakerID)
	case opToggleBook:
		err = c.sess.ToggleBookmark(req.SegmentID)
	case opSetConfirmed:
		err = c.sess.SetConfirmed(req.SegmentID, req.Confirmed)
		recompute = err == nil
	case opSetTags:
		err = c.sess.SetTags(req.SegmentID, req.TagIDs)
	case opDeleteSegment:
		err = c.sess.DeleteSegment(req.SegmentID)
		recompute = err == nil

	case opSearchQuery:
		c.sess.SetSearchQuery(req.Query, req.Regex)
	case opSearchNext:
		c.sess.SearchNext()
	case opSearchPrev:
		c.sess.SearchPrevious()
	case opReplaceCurrent:
		updates := c.sess.ReplaceCurrent(req.Replacement)
		observe.DefaultMetrics().Replacements.Add(ctx, int64(len(updates)),
			metric.WithAttributes(observe.Attr("scope", "current")))
		recompute = len(updates) > 0
	case opReplaceAll:
		updates := c.sess.ReplaceAll(req.Replacement)
		observe.DefaultMetrics().Replacements.Add(ctx, int64(len(updates)),
			metric.WithAttributes(observe.Attr("scope", "all")))
		recompute = len(updates) > 0

	case opPlaybackTick:
		c.handleTick(ctx, req)
		return
	case opSelectNext, opSelectPrev:
		c.handleSelect(ctx, req)
		return

	default:
		err = fmt.Errorf("server: unknown op %q", req.Op)
	}

	if err != nil {
		observe.Logger(ctx).Warn("op failed", "op", req.Op, "transcript", c.transcript, "err", err)
		c.write(ctx, errorOf(c.transcript, err))
		return
	}
	if recompute {
		if err := c.sess.Recompute(ctx); err != nil {
			c.write(ctx, errorOf(c.transcript, err))
			return
		}
	}
	c.write(ctx, stateOf(c.transcript, c.sess.View()))
}

func (c *client) handleOpen(ctx context.Context, req request) {
	if c.transcript != "" {
		c.srv.manager.Release(ctx, c.transcript)
	}
	sess, err := c.srv.manager.Open(ctx, req.Transcript)
	if err != nil {
		c.transcript, c.sess, c.sync = "", nil, nil
		c.write(ctx, errorOf(req.Transcript, err))
		return
	}

	c.transcript = req.Transcript
	c.sess = sess
	c.sync = playback.NewSynchronizer(playback.Deps{
		Scroller: c,
		Viewport: c,
		Select:   func(id string) { c.command(playbackCommand{Cmd: "select", SegmentID: id}) },
		Seek: func(sr types.SeekRequest) {
			observe.DefaultMetrics().Seeks.Add(ctx, 1,
				metric.WithAttributes(observe.Attr("source", string(sr.Source)), observe.Attr("action", sr.Action)))
			c.command(playbackCommand{Cmd: "seek", Seek: &sr})
		},
		SetPlaying: func(p bool) { c.command(playbackCommand{Cmd: "setPlaying", Playing: p}) },
		IsEditing:  func() bool { return c.editing },
	}, c.srv.pbOpts)

	c.write(ctx, stateOf(c.transcript, sess.View()))
}

// handleTick runs one synchronizer tick against the client-reported playhead
// and answers with the commands the tick produced.
func (c *client) handleTick(ctx context.Context, req request) {
	if req.Playback == nil {
		c.write(ctx, errorOf(c.transcript, fmt.Errorf("server: %s requires a playback payload", req.Op)))
		return
	}

	v := c.sess.View()
	c.visible = make(map[string]bool, len(req.Playback.Visible))
	for _, id := range req.Playback.Visible {
		c.visible[id] = true
	}
	c.editing = req.Playback.Editing
	c.commands = nil

	restrict := c.srv.restrict
	if req.Playback.Restrict != nil {
		restrict = *req.Playback.Restrict
	}

	c.sync.Tick(playback.Input{
		Segments:           v.Segments,
		Filtered:           v.Filtered.Segments,
		SelectedID:         req.Playback.SelectedID,
		Time:               req.Playback.Time,
		IsPlaying:          req.Playback.IsPlaying,
		RestrictToFiltered: restrict,
	})

	c.write(ctx, commandMessage{Type: "commands", Commands: c.commands})
}

// handleSelect moves the selection over the filtered list without wrapping.
func (c *client) handleSelect(ctx context.Context, req request) {
	selected := ""
	if req.Playback != nil {
		selected = req.Playback.SelectedID
	}

	v := c.sess.View()
	c.commands = nil
	if req.Op == opSelectNext {
		c.sync.SelectNext(v.Filtered.Segments, selected)
	} else {
		c.sync.SelectPrevious(v.Filtered.Segments, selected)
	}
	c.write(ctx, commandMessage{Type: "commands", Commands: c.commands})
}

// ScrollTo implements [playback.Scroller] by queueing a scroll command.
func (c *client) ScrollTo(segmentID string, jump bool) {
	c.command(playbackCommand{Cmd: "scrollTo", SegmentID: segmentID, Jump: jump})
}

// Visible implements [playback.Viewport] from the client-reported viewport.
func (c *client) Visible(segmentID string) bool {
	return c.visible[segmentID]
}

func (c *client) command(cmd playbackCommand) {
	c.commands = append(c.commands, cmd)
}

// write marshals v and sends it as a text frame. Write errors surface on the
// next read, so they are only logged here.
func (c *client) write(ctx context.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal response", "err", err)
		return
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "err", err)
	}
}
