// Package socketdir names and locates runbookd's local control socket.
//
// The teacher's package of the same name addresses a per-agent fleet of
// sockets (one per running agent, one per bridge). runbookd is a single
// process, so this adapts the teacher's naming/probing conventions down to
// one well-known control socket. `runbookd run` probes it at startup so a
// second instance fails fast, then serves the same /hook and /ws handlers on
// it alongside the network listener.
package socketdir

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// SocketName is the fixed filename of the control socket within Dir().
const SocketName = "runbookd.sock"

// Dir returns the directory holding runbookd's control socket (~/.runbookd/sockets/).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".runbookd", "sockets")
	}
	return filepath.Join(home, ".runbookd", "sockets")
}

// Path returns the full path to the control socket.
func Path() string {
	return filepath.Join(Dir(), SocketName)
}

// ProbeSocket checks whether a socket file at path is a stale leftover or a
// live daemon already listening, mirroring the teacher's own startup check
// in internal/daemon.Daemon.Run: dial with a short timeout, and only treat
// the path as occupied if something answers.
func ProbeSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("runbookd is already running (socket %s is live)", path)
	}
	// Stale socket file from a previous run that didn't clean up.
	return os.Remove(path)
}
