/*
This is an example application that drives the submission pipeline and
the frame pacer with a simulated front-end, no GPU required
*/
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/prisma/engine"
	"github.com/spaghettifunk/prisma/testbed"
)

func main() {
	sim := testbed.NewSim(2*time.Millisecond, 3, "prisma.toml")

	backend := testbed.NewStubBackend(4*time.Millisecond, 0.2)
	presenter := testbed.NewStubPresenter()

	engine, err := engine.New(sim, backend, presenter)
	if err != nil {
		panic(err)
	}

	if err := engine.Initialize(); err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		_ = engine.Shutdown()
	}()

	// run engine
	if err := engine.Run(); err != nil {
		panic(err)
	}
}
