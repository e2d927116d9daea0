// Command mtclctl is a small inspection and smoke-test CLI for an MTCL
// deployment: it can listen on an endpoint and echo whatever it receives,
// or connect to one and send a single message.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Ulferin/CommLib-MTCL-sub000"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		listenAddr  = flag.String("listen", "", "endpoint to listen on, e.g. TCP:0.0.0.0:42000")
		connectAddr = flag.String("connect", "", "endpoint to connect to, e.g. TCP:127.0.0.1:42000")
		message     = flag.String("message", "ping", "payload to send when -connect is used")
		resolver    = flag.String("resolver", "", "path to a JSON resolver document")
		verbose     = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	opts := []mtcl.Option{mtcl.WithLogger(logger.WithField("component", "mtclctl"))}
	if *resolver != "" {
		r, err := mtcl.LoadResolver(*resolver)
		if err != nil {
			logger.Fatalf("loading resolver: %v", err)
		}
		opts = append(opts, mtcl.WithResolver(r))
	}

	mgr := mtcl.NewManager("mtclctl", opts...)
	if err := mgr.Init(); err != nil {
		logger.Fatalf("init: %v", err)
	}
	defer mgr.Finalize(true)

	switch {
	case *listenAddr != "":
		runListener(mgr, logger, *listenAddr)
	case *connectAddr != "":
		runClient(mgr, logger, *connectAddr, *message)
	default:
		fmt.Fprintln(os.Stderr, "usage: mtclctl -listen ENDPOINT | -connect ENDPOINT [-message TEXT]")
		os.Exit(2)
	}
}

func runListener(mgr *mtcl.Manager, logger *logrus.Logger, endpoint string) {
	if err := mgr.Listen(endpoint); err != nil {
		logger.Fatalf("listen %s: %v", endpoint, err)
	}
	logger.Infof("listening on %s", endpoint)
	for {
		h, err := mgr.GetNext()
		if err != nil {
			logger.Errorf("get_next: %v", err)
			return
		}
		go echo(h, logger)
	}
}

func echo(h *mtcl.Handle, logger *logrus.Logger) {
	buf := make([]byte, 1<<16)
	for {
		n, err := h.Receive(buf)
		if err != nil {
			logger.Errorf("receive: %v", err)
			return
		}
		if n == 0 {
			h.Close(true, true)
			return
		}
		if err := h.Send(buf[:n]); err != nil {
			logger.Errorf("send: %v", err)
			return
		}
	}
}

func runClient(mgr *mtcl.Manager, logger *logrus.Logger, endpoint, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h, err := mgr.Connect(ctx, endpoint)
	if err != nil {
		logger.Fatalf("connect %s: %v", endpoint, err)
	}
	if err := h.Send([]byte(message)); err != nil {
		logger.Fatalf("send: %v", err)
	}
	buf := make([]byte, 1<<16)
	n, err := h.Receive(buf)
	if err != nil {
		logger.Fatalf("receive: %v", err)
	}
	fmt.Printf("%s\n", buf[:n])
	h.Close(true, true)
}
