// Peerwire-signal — standalone rendezvous server.
//
// Peers register their identity here and exchange SDP/ICE through it;
// all payload traffic then flows peer-to-peer. Run it anywhere both
// endpoints can reach.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/peerwire/peerwire/internal/signaling"
	"github.com/peerwire/peerwire/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", ":9190", "Listen address (\":0\" picks a random port)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	srv := signaling.NewServer()
	port, err := srv.Start(*addr)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer srv.Close()

	pterm.Println()
	pterm.DefaultBox.Println(fmt.Sprintf("Rendezvous server listening on port %d\nEndpoints connect with -signal ws://<host>:%d/ws", port, port))
	pterm.Println()

	<-ctx.Done()
	util.LogInfo("rendezvous server stopped")
}
