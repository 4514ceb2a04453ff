package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const pactlTimeout = 2 * time.Second

// commandRunner runs an external command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// pactlBackend drives every PulseAudio/PipeWire playback sink at once.
// The OSD shows the average sink volume; changes are applied to all sinks.
type pactlBackend struct {
	binary string
	run    commandRunner
	logger *slog.Logger
}

func newPactlBackend(binary string, logger *slog.Logger) *pactlBackend {
	if binary == "" {
		binary = "pactl"
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &pactlBackend{binary: binary, run: execRunner, logger: logger}
}

func (p *pactlBackend) pactl(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pactlTimeout)
	defer cancel()

	out, err := p.run(ctx, p.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", p.binary, strings.Join(args, " "), err)
	}
	return out, nil
}

// sinks returns the playback sink IDs from "pactl list sinks short".
func (p *pactlBackend) sinks() ([]string, error) {
	out, err := p.pactl("list", "sinks", "short")
	if err != nil {
		return nil, err
	}
	return parseSinkIDs(out), nil
}

func (p *pactlBackend) State() (AudioState, error) {
	out, err := p.pactl("list", "sinks")
	if err != nil {
		return AudioState{}, err
	}
	return aggregateSinks(parseSinks(out)), nil
}

func (p *pactlBackend) ChangeVolume(delta int) (int, error) {
	cur, err := p.State()
	if err != nil {
		return 0, err
	}
	target := clampPercent(cur.Volume + delta)

	ids, err := p.sinks()
	if err != nil {
		return cur.Volume, err
	}
	for _, id := range ids {
		if _, err := p.pactl("set-sink-volume", id, strconv.Itoa(target)+"%"); err != nil {
			// Keep going; one broken sink should not freeze the others.
			p.logger.Warn("set sink volume failed", "sink", id, "error", err)
		}
	}
	return target, nil
}

func (p *pactlBackend) ToggleMute() error {
	ids, err := p.sinks()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := p.pactl("set-sink-mute", id, "toggle"); err != nil {
			p.logger.Warn("toggle sink mute failed", "sink", id, "error", err)
		}
	}
	return nil
}

func (p *pactlBackend) Close() error { return nil }

// parseSinkIDs extracts the numeric index column of "pactl list sinks short".
func parseSinkIDs(out []byte) []string {
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		id := strings.TrimSpace(fields[0])
		if id == "" {
			continue
		}
		if _, err := strconv.Atoi(id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// sinkState is one sink block of "pactl list sinks".
type sinkState struct {
	Volume int
	Muted  bool
}

// parseSinks reads the long "pactl list sinks" format. Each "Sink #N" block
// contributes its first channel percentage and its Mute line; blocks with no
// parsable volume are skipped.
func parseSinks(out []byte) []sinkState {
	var (
		sinks  []sinkState
		cur    sinkState
		hasVol bool
	)
	flush := func() {
		if hasVol {
			sinks = append(sinks, cur)
		}
		cur, hasVol = sinkState{}, false
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "Sink #"):
			flush()
		case strings.HasPrefix(line, "Volume:"):
			if v, ok := firstPercent(line); ok {
				cur.Volume, hasVol = v, true
			}
		case strings.HasPrefix(line, "Mute:"):
			cur.Muted = strings.Contains(strings.ToLower(line), "yes")
		}
	}
	flush()
	return sinks
}

func firstPercent(line string) (int, bool) {
	for _, tok := range strings.Fields(strings.ReplaceAll(line, ",", " ")) {
		if !strings.HasSuffix(tok, "%") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(tok, "%"))
		if err != nil {
			continue
		}
		return clampPercent(v), true
	}
	return 0, false
}

// aggregateSinks averages volumes; the output counts as muted only when
// every sink is muted.
func aggregateSinks(sinks []sinkState) AudioState {
	if len(sinks) == 0 {
		return AudioState{}
	}
	sum := 0
	allMuted := true
	for _, s := range sinks {
		sum += s.Volume
		if !s.Muted {
			allMuted = false
		}
	}
	return AudioState{
		Volume: int(math.Round(float64(sum) / float64(len(sinks)))),
		Muted:  allMuted,
	}
}
