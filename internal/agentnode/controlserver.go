package agentnode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ankaios/ankaios/internal/common/logger"
	"github.com/ankaios/ankaios/internal/controlinterface"
	"github.com/ankaios/ankaios/internal/controlinterface/logs"
	"github.com/ankaios/ankaios/internal/controlinterface/unixsocket"
	"github.com/ankaios/ankaios/internal/runtime"
	"github.com/ankaios/ankaios/internal/statestore"
	"github.com/ankaios/ankaios/internal/wire"
)

var (
	// ErrControlServerAlreadyRunning is returned by Start on an already-started ControlServer.
	ErrControlServerAlreadyRunning = errors.New("agentnode: control server already running")
	// ErrControlServerNotRunning is returned by Stop on a ControlServer that was never started.
	ErrControlServerNotRunning = errors.New("agentnode: control server not running")
)

// ControlServer exposes one Control Interface socket per workload instance
// this agent currently tracks, under baseDir. It reconciles its set of
// listening sockets against the Reconciler's tracked instances on the same
// cadence Connection ticks the Reconciler, the way Reconciler itself
// reconciles workload state against observed runtime status.
type ControlServer struct {
	baseDir    string
	reconciler *Reconciler
	conn       *Connection
	runtime    runtime.Adapter
	logger     *logger.Logger

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	listeners map[string]*unixsocket.Transport // keyed by instance name string
}

// NewControlServer returns a ControlServer that will serve sockets under
// baseDir once started.
func NewControlServer(baseDir string, reconciler *Reconciler, conn *Connection, adapter runtime.Adapter, log *logger.Logger) *ControlServer {
	return &ControlServer{
		baseDir:    baseDir,
		reconciler: reconciler,
		conn:       conn,
		runtime:    adapter,
		logger:     log.WithFields(zap.String("component", "control_server")),
		listeners:  make(map[string]*unixsocket.Transport),
	}
}

// Start launches the reconcile loop in the background.
func (s *ControlServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrControlServerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.reconcileLoop(ctx)
	return nil
}

// Stop tears down every listening socket and waits for their accept loops
// to exit.
func (s *ControlServer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrControlServerNotRunning
	}
	close(s.stopCh)
	s.running = false
	listeners := s.listeners
	s.listeners = make(map[string]*unixsocket.Transport)
	s.mu.Unlock()

	for _, t := range listeners {
		_ = t.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *ControlServer) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

func (s *ControlServer) reconcile(ctx context.Context) {
	tracked := s.reconciler.trackedInstances()
	want := make(map[string]TrackedInstance, len(tracked))
	for _, t := range tracked {
		want[t.Name.String()] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range want {
		if _, ok := s.listeners[key]; ok {
			continue
		}
		transport, err := unixsocket.Listen(s.socketPath(t.Name))
		if err != nil {
			s.logger.Warn("failed to open control socket", zap.String("workload", key), zap.Error(err))
			continue
		}
		s.listeners[key] = transport
		s.wg.Add(1)
		go s.acceptLoop(ctx, t.Name.WorkloadName, transport)
	}

	for key, transport := range s.listeners {
		if _, ok := want[key]; !ok {
			_ = transport.Close()
			delete(s.listeners, key)
		}
	}
}

func (s *ControlServer) socketPath(name wire.WorkloadInstanceName) string {
	return filepath.Join(s.baseDir, name.String()+".sock")
}

func (s *ControlServer) acceptLoop(ctx context.Context, workloadName string, transport *unixsocket.Transport) {
	defer s.wg.Done()
	for {
		stream, err := transport.Accept(ctx)
		if err != nil {
			return
		}
		go s.serveConnection(ctx, workloadName, stream)
	}
}

func (s *ControlServer) serveConnection(ctx context.Context, workloadName string, stream controlinterface.Stream) {
	defer stream.Close()

	frame, err := stream.Recv(ctx)
	if err != nil {
		return
	}
	if frame.Kind != controlinterface.FrameHello || frame.Hello == nil || frame.Hello.WorkloadName != workloadName {
		_ = stream.Send(ctx, &controlinterface.Frame{
			Kind:             controlinterface.FrameConnectionClosed,
			ConnectionClosed: &controlinterface.ConnectionClosed{Reason: "hello does not match this socket's workload"},
		})
		return
	}

	wl, instName, ok := s.reconciler.WorkloadByName(workloadName)
	if !ok {
		_ = stream.Send(ctx, &controlinterface.Frame{
			Kind:             controlinterface.FrameConnectionClosed,
			ConnectionClosed: &controlinterface.ConnectionClosed{Reason: "workload no longer scheduled to this agent"},
		})
		return
	}
	rules := wire.AccessRules{}
	if wl.ControlInterfaceAccess != nil {
		rules = *wl.ControlInterfaceAccess
	}

	logStreamer := newLocalLogStreamer(s.runtime, func(name string) (wire.WorkloadInstanceName, bool) {
		_, n, ok := s.reconciler.WorkloadByName(name)
		return n, ok
	})
	reader := &connStateReader{conn: s.conn}
	updater := &connStateUpdater{conn: s.conn}

	handler := controlinterface.New(workloadName, rules, reader, updater, logStreamer)
	handler.PushLogEntry = func(requestID, name, line string) {
		_ = stream.Send(ctx, &controlinterface.Frame{
			Kind: controlinterface.FrameResponse,
			Response: &controlinterface.Response{
				ID:         requestID,
				Kind:       controlinterface.ResponseLogEntries,
				LogEntries: &controlinterface.LogEntries{WorkloadName: name, Lines: []string{line}},
			},
		})
	}

	s.logger.Info("control interface connected", zap.String("workload", instName.String()))
	for {
		frame, err := stream.Recv(ctx)
		if err != nil {
			return
		}
		if frame.Kind != controlinterface.FrameRequest || frame.Request == nil {
			continue
		}
		resp := handler.Serve(ctx, frame.Request)
		if err := stream.Send(ctx, &controlinterface.Frame{Kind: controlinterface.FrameResponse, Response: resp}); err != nil {
			return
		}
	}
}

// connStateReader adapts Connection's server-forwarding RPC to
// controlinterface.StateReader: the agent only knows the workloads
// scheduled to it, not the full cluster desired state, so reads are
// forwarded to the server over the agent's own connection.
type connStateReader struct {
	conn *Connection
}

func (r *connStateReader) GetFields(masks []string) (map[string]interface{}, error) {
	state, err := r.conn.RequestCompleteState(context.Background(), masks)
	if err != nil {
		return nil, err
	}
	tree, err := statestore.ToTree(state)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// connStateUpdater adapts Connection's server-forwarding RPC to
// controlinterface.StateUpdater.
type connStateUpdater struct {
	conn *Connection
}

func (u *connStateUpdater) ApplyUpdate(ctx context.Context, newState wire.DesiredState, updateMask []string) (added, deleted []wire.WorkloadInstanceName, err error) {
	return u.conn.RequestUpdateState(ctx, newState, updateMask)
}

// localLogStreamer serves Logs/LogsCancel requests directly from this
// agent's runtime adapter: log output is local to wherever the workload
// actually runs, so unlike state reads/writes it never needs to go back
// over the wire to the server.
type localLogStreamer struct {
	adapter runtime.LogsCapable
	resolve func(workloadName string) (wire.WorkloadInstanceName, bool)

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newLocalLogStreamer(adapter runtime.Adapter, resolve func(string) (wire.WorkloadInstanceName, bool)) *localLogStreamer {
	capable, _ := adapter.(runtime.LogsCapable)
	return &localLogStreamer{adapter: capable, resolve: resolve, cancels: make(map[string]context.CancelFunc)}
}

func (l *localLogStreamer) StartLogs(ctx context.Context, requestID string, workloadNames []string, follow bool, deliver func(workloadName, line string)) error {
	if l.adapter == nil {
		return fmt.Errorf("controlinterface: runtime adapter does not support log streaming")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancels[requestID] = cancel
	l.mu.Unlock()

	for _, name := range workloadNames {
		instName, ok := l.resolve(name)
		if !ok {
			cancel()
			return fmt.Errorf("controlinterface: unknown workload %q", name)
		}
		lines, err := logs.Stream(streamCtx, l.adapter, instName, follow)
		if err != nil {
			cancel()
			return err
		}
		go func() {
			for line := range lines {
				deliver(line.WorkloadName, line.Text)
			}
		}()
	}
	return nil
}

func (l *localLogStreamer) CancelLogs(requestID string) {
	l.mu.Lock()
	cancel, ok := l.cancels[requestID]
	if ok {
		delete(l.cancels, requestID)
	}
	l.mu.Unlock()
	if ok {
		cancel()
	}
}
