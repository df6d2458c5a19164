package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"keepalive"
)

func main() {
	svc, err := keepalive.NewDefault()
	if err != nil {
		log.Fatalf("Failed to configure keepalive: %v", err)
	}

	if err := svc.Start(); err != nil {
		log.Fatalf("Failed to start keepalive: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	svc.Stop()
}
