// Command volumectl sends one action to a running volumeosd over its
// control socket.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

const (
	defaultSocket = "/tmp/volumeosd.sock"
	socketEnv     = "VOLUMEOSD_SOCKET"
)

// commands maps command names and their aliases to wire action types.
var commands = map[string]string{
	"up":          "increase",
	"volume-up":   "increase",
	"increase":    "increase",
	"down":        "decrease",
	"volume-down": "decrease",
	"decrease":    "decrease",
	"mute":        "toggle_mute",
	"toggle-mute": "toggle_mute",
	"toggle_mute": "toggle_mute",
}

type request struct {
	Type string `json:"type"`
}

type reply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	socket := defaultSocket
	if env := os.Getenv(socketEnv); env != "" {
		socket = env
	}

	fs := flag.NewFlagSet("volumectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&socket, "socket", socket, "control socket path (env "+socketEnv+")")
	timeout := fs.Duration("timeout", 5*time.Second, "give up after this long")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: volumectl [-socket PATH] [-timeout D] up|down|mute")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	action, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "volumectl: unknown command %q\n", fs.Arg(0))
		fs.Usage()
		return 2
	}
	if err := send(socket, action, *timeout); err != nil {
		fmt.Fprintln(stderr, "volumectl:", err)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

// send writes one request line and waits for the daemon's reply line.
func send(socket, action string, timeout time.Duration) error {
	conn, err := net.DialTimeout("unix", socket, timeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", socket, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	line, err := json.Marshal(request{Type: action})
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	var r reply
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&r); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if r.Status != "ok" {
		return fmt.Errorf("daemon refused %s: %s", action, r.Error)
	}
	return nil
}
