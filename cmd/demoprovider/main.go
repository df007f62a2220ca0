// Command demoprovider serves a canned tenant directory for local runs.
// Point kansad at it with KANSA_PROVIDER_BASE_URL=http://localhost:9090.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/raysh454/kansa/internal/demoprovider"
	"github.com/raysh454/kansa/internal/logging"
)

func main() {
	cfg := demoprovider.DefaultConfig()

	addr := flag.String("addr", cfg.Addr, "listen address")
	posture := flag.String("posture", string(cfg.Posture), "tenant posture: hardened|weak")
	pageSize := flag.Int("page-size", cfg.PageSize, "items per collection page")
	flag.Parse()

	p, err := demoprovider.ParsePosture(*posture)
	if err != nil {
		log.Fatalf("Invalid posture: %v", err)
	}
	cfg.Addr = *addr
	cfg.Posture = p
	cfg.PageSize = *pageSize

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := demoprovider.NewDemoProvider(cfg, logging.NewStdoutLogger("DemoProvider"))
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
