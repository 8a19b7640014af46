package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanehaakhtar/localboard/internal/client"
	"github.com/sanehaakhtar/localboard/internal/config"
	"github.com/sanehaakhtar/localboard/internal/state"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"serve", "discover", "join", "export"} {
		assert.True(t, names[name], "missing subcommand %q", name)
	}
}

// startServe runs the serve loop on a loopback port until the test ends.
func startServe(t *testing.T) *net.TCPAddr {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Discovery.Enabled = false

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	errc := make(chan error, 1)
	go func() { errc <- runServe(ctx, cfg, zerolog.Nop(), ready) }()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-errc:
		t.Fatalf("serve failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("serve did not stop")
		}
	})
	return addr.(*net.TCPAddr)
}

func TestRunServe(t *testing.T) {
	addr := startServe(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExportCommand(t *testing.T) {
	addr := startServe(t)
	link := client.Link{Host: "127.0.0.1", Port: addr.Port, Room: "R1"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc := client.NewReconciler("R1", zerolog.Nop())
	conn, err := client.Dial(ctx, link, rc, zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WaitHydrated(ctx))

	canvas := state.Rect{Width: 100, Height: 100}
	require.NoError(t, conn.Send(rc.BeginStroke(state.PixelPoint{X: 10, Y: 50}, canvas, "red", 8)))
	msg, _ := rc.ExtendStroke(state.PixelPoint{X: 90, Y: 50}, canvas)
	require.NoError(t, conn.Send(msg))
	msg, _ = rc.EndStroke()
	require.NoError(t, conn.Send(msg))
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/rooms/R1", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var snap state.Snapshot
		if json.NewDecoder(resp.Body).Decode(&snap) != nil {
			return false
		}
		return len(snap.Strokes) == 1 && len(snap.Strokes[0].Points) == 2
	}, 3*time.Second, 20*time.Millisecond)

	out := filepath.Join(t.TempDir(), "board.png")
	cmd := buildRootCmd()
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"export", link.String(), "--out", out, "--width", "100", "--height", "100"})
	require.NoError(t, cmd.Execute())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	r, g, _, _ := img.At(50, 50).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
}

func TestExportCommandErrors(t *testing.T) {
	for _, args := range [][]string{
		{"export", "http://nowhere/R1"},
		{"export", "localboard://127.0.0.1:1/R1", "--out", "board.svg"},
		{"join"},
	} {
		cmd := buildRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), "%v", args)
	}
}
