// Package placement provides the worker-launch backends behind the
// Cospace Manager's dedicated placement: forking a sibling worker
// executable, or creating a worker Pod in a Kubernetes cluster. Both
// hand back a cluster-transport client once the worker's node manager
// has registered under the discovery tag.
package placement

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/manager"
	"github.com/fasttravel/realtime/internal/transport"
)

// RegistrationTimeout bounds how long a launch waits for the worker's
// node manager to announce itself before the launch counts as failed.
const RegistrationTimeout = 15 * time.Second

// killGrace is how long a shut-down worker gets to exit after SIGTERM
// before it is killed, so a failed placement never leaves an orphan
// process behind.
const killGrace = 5 * time.Second

// ProcessLauncher spawns dedicated worker nodes as child processes of
// the main node, each told its node id on the command line.
type ProcessLauncher struct {
	binPath   string
	extraArgs []string
	t         *transport.Transport
	registrar *transport.Registrar
	log       zerolog.Logger

	nextNodeID atomic.Uint32

	mu    sync.Mutex
	procs map[uint32]*workerProc
}

// workerProc pairs a child process with the channel its reaper closes
// on exit.
type workerProc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// NewProcessLauncher builds a launcher forking binPath with the given
// extra arguments appended after --node-id. Node ids start at
// firstNodeID; the main node conventionally holds id 0 and a shared
// worker id 1, so dedicated workers start at 2.
func NewProcessLauncher(binPath string, firstNodeID uint32, t *transport.Transport, registrar *transport.Registrar, log zerolog.Logger, extraArgs ...string) *ProcessLauncher {
	l := &ProcessLauncher{
		binPath:   binPath,
		extraArgs: extraArgs,
		t:         t,
		registrar: registrar,
		log:       log,
		procs:     make(map[uint32]*workerProc),
	}
	l.nextNodeID.Store(firstNodeID - 1)
	return l
}

// Launch implements manager.WorkerLauncher: fork the worker, wait for
// its node manager to register, and return a transport client bound to
// it. Any failure tears the child down before returning.
func (l *ProcessLauncher) Launch(ctx context.Context) (uint32, manager.NodeClient, error) {
	nodeID := l.nextNodeID.Add(1)

	args := append([]string{"--node-id", strconv.FormatUint(uint64(nodeID), 10)}, l.extraArgs...)
	cmd := exec.Command(l.binPath, args...)
	if err := cmd.Start(); err != nil {
		return 0, nil, fmt.Errorf("placement: start worker %s: %w", l.binPath, err)
	}
	l.log.Info().Uint32("node_id", nodeID).Int("pid", cmd.Process.Pid).Msg("worker_process_started")

	proc := &workerProc{cmd: cmd, done: make(chan struct{})}
	l.mu.Lock()
	l.procs[nodeID] = proc
	l.mu.Unlock()

	// Reap the child whenever it exits so a crashed worker never
	// lingers as a zombie.
	go func() {
		err := cmd.Wait()
		close(proc.done)
		l.log.Debug().Uint32("node_id", nodeID).Err(err).Msg("worker_process_exited")
	}()

	waitCtx, cancel := context.WithTimeout(ctx, RegistrationTimeout)
	defer cancel()
	if err := l.registrar.WaitFor(waitCtx, nodeID); err != nil {
		_ = l.Shutdown(ctx, nodeID)
		return 0, nil, err
	}

	return nodeID, l.t.NodeClient(nodeID), nil
}

// Shutdown terminates a worker: SIGTERM, then SIGKILL after a grace
// period if it has not exited.
func (l *ProcessLauncher) Shutdown(_ context.Context, nodeID uint32) error {
	l.mu.Lock()
	proc, ok := l.procs[nodeID]
	if ok {
		delete(l.procs, nodeID)
	}
	l.mu.Unlock()
	l.registrar.Forget(nodeID)

	if !ok || proc.cmd.Process == nil {
		return nil
	}

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	go func() {
		select {
		case <-proc.done:
		case <-time.After(killGrace):
			_ = proc.cmd.Process.Kill()
		}
	}()
	return nil
}

// ShutdownAll terminates every worker this launcher started, for main
// node shutdown.
func (l *ProcessLauncher) ShutdownAll(ctx context.Context) {
	l.mu.Lock()
	nodeIDs := make([]uint32, 0, len(l.procs))
	for id := range l.procs {
		nodeIDs = append(nodeIDs, id)
	}
	l.mu.Unlock()

	for _, id := range nodeIDs {
		_ = l.Shutdown(ctx, id)
	}
}
