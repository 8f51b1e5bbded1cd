package worker

import (
	"net"
	"os"
	"time"

	"github.com/loqalabs/loqa-speak/internal/config"
)

const probeTimeout = 500 * time.Millisecond

// Prober answers the hot-path question "is a warm worker serving
// right now". The socket file's existence plus a successful connect is
// the sole source of truth; the PID file may be stale after a crash.
type Prober struct {
	socket  string
	timeout time.Duration
}

func NewProber(paths config.Paths) *Prober {
	return &Prober{socket: paths.Socket, timeout: probeTimeout}
}

// Running never returns an error and always resolves within the probe
// timeout. It is a branch condition, not a diagnostic.
func (p *Prober) Running() bool {
	if _, err := os.Stat(p.socket); err != nil {
		return false
	}
	conn, err := net.DialTimeout("unix", p.socket, p.timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
