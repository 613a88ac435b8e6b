// Peerwire — CLI entry point.
//
// An endpoint registers a short identity with a rendezvous server, then
// talks to one peer at a time over a direct WebRTC DataChannel: text
// messages, chunked file transfers, and an audio/video call behind an
// in-band consent handshake. The rendezvous is only needed for setup.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/peerwire/peerwire/internal/call"
	"github.com/peerwire/peerwire/internal/config"
	"github.com/peerwire/peerwire/internal/journal"
	"github.com/peerwire/peerwire/internal/protocol"
	"github.com/peerwire/peerwire/internal/session"
	"github.com/peerwire/peerwire/internal/transfer"
	"github.com/peerwire/peerwire/internal/util"
	"github.com/peerwire/peerwire/internal/webrtc"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a TOML config file")
	signalURL := flag.String("signal", "", "Rendezvous server URL (overrides config)")
	peerFlag := flag.String("peer", "", "Peer identity to connect to on startup")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peerwire — v%s", version))
	pterm.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *signalURL != "" {
		cfg.SignalURL = *signalURL
	}

	if err := run(ctx, cfg, *peerFlag); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("goodbye")
}

// run assembles the endpoint and enters the interactive loop.
func run(ctx context.Context, cfg config.Config, startPeer string) error {
	selfID := util.NewIdentity(cfg.IdentityLength)
	jrnl := journal.New(cfg.JournalCapacity)

	network, err := webrtc.NewNetwork(ctx, selfID, cfg.SignalURL, cfg.StunServers)
	if err != nil {
		return fmt.Errorf("failed to reach rendezvous server: %w", err)
	}
	defer network.Close()

	transfers := transfer.NewManager(selfID, cfg.ChunkSize, cfg.ProgressEvery)
	transfers.OnProgress(func(id string, pct int) {
		util.LogDebug("transfer %s: %d%%", id, pct)
	})
	transfers.OnRemove(func(id string) {
		util.LogDebug("transfer %s: done", id)
	})

	ctrl := session.NewController(selfID, network, transfers, jrnl, cfg.ConnectTimeout())
	negotiator := call.NewNegotiator(selfID, network, webrtc.StaticSource{}, ctrl.SendEnvelope, jrnl)
	ctrl.AttachCalls(negotiator)

	ctrl.OnMessage(func(env *protocol.Envelope) { showMessage(env) })
	ctrl.OnState(func(s session.State) {
		util.LogInfo("session state: %s", s)
	})
	negotiator.OnPhase(func(phase call.Phase, role call.Role) {
		if role == call.RoleNone {
			util.LogInfo("call: %s", phase)
		} else {
			util.LogInfo("call: %s (%s)", phase, role)
		}
	})

	util.StartStatsReporter(ctx)

	pterm.Println()
	pterm.DefaultBox.Println(fmt.Sprintf("Your identity: %s", selfID))
	pterm.Println()
	pterm.Println("Commands: /connect <peer>  /retry  /close  /send <file>  /call  /accept  /reject  /hangup  /log  /quit")
	pterm.Println("Anything else is sent as a chat message.")
	pterm.Println()

	if startPeer != "" {
		if err := ctrl.Connect(strings.ToUpper(startPeer)); err != nil {
			util.LogWarning("%v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			ctrl.Close()
			return nil
		default:
		}

		line, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(">").Show()
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" {
			ctrl.Close()
			return nil
		}
		dispatch(ctrl, negotiator, jrnl, line)
	}
}

// dispatch handles one interactive command.
func dispatch(ctrl *session.Controller, negotiator *call.Negotiator, jrnl *journal.Journal, line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/connect":
		if arg == "" {
			util.LogWarning("usage: /connect <peer>")
			return
		}
		if err := ctrl.Connect(strings.ToUpper(arg)); err != nil {
			util.LogWarning("%v", err)
		}

	case "/retry":
		if err := ctrl.Retry(); err != nil {
			util.LogWarning("%v", err)
		}

	case "/close":
		ctrl.Close()

	case "/send":
		if arg == "" {
			util.LogWarning("usage: /send <file>")
			return
		}
		payload, err := os.ReadFile(arg)
		if err != nil {
			util.LogWarning("cannot read %s: %v", arg, err)
			return
		}
		if err := ctrl.SendFile(baseName(arg), payload); err != nil {
			util.LogWarning("%v", err)
		}

	case "/call":
		if err := negotiator.Request(ctrl.Peer()); err != nil {
			util.LogWarning("%v", err)
		}

	case "/accept":
		if err := negotiator.Accept(); err != nil {
			util.LogWarning("%v", err)
		}

	case "/reject":
		if err := negotiator.Reject(); err != nil {
			util.LogWarning("%v", err)
		}

	case "/hangup":
		negotiator.End()

	case "/log":
		for _, entry := range jrnl.Entries() {
			pterm.Printf("%s [%s] %s\n", entry.Time.Format("15:04:05"), entry.Severity, entry.Message)
		}

	default:
		if strings.HasPrefix(cmd, "/") {
			util.LogWarning("unknown command %s", cmd)
			return
		}
		if _, err := ctrl.SendText(line); err != nil {
			util.LogWarning("%v", err)
		}
	}
}

// showMessage renders one inbound message; binary payloads land on disk.
func showMessage(env *protocol.Envelope) {
	switch env.Kind {
	case protocol.KindText, protocol.KindSystem:
		text, _ := env.Content.Text()
		pterm.Printf("[%s] %s\n", env.SenderID, text)

	case protocol.KindImage, protocol.KindVideoFile:
		data, _ := env.Content.Bytes()
		name := fmt.Sprintf("%s_%s", env.SenderID, env.FileName)
		if err := os.WriteFile(name, data, 0o644); err != nil {
			util.LogError("saving %s: %v", name, err)
			return
		}
		util.LogSuccess("received %s from %s (%d bytes) — saved as %s", env.FileName, env.SenderID, len(data), name)
	}
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
