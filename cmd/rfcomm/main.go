package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/portmux/rfcomm-go"
)

// rfcomm is a small utility for poking at the multiplexer over TCP:
// one side listens, the other dials, and a channel is bridged to stdio.
func main() {
	listen := flag.Bool("l", false, "listen instead of dial")
	channel := flag.Uint("c", 1, "server channel to open or serve (1-30)")
	netlog := flag.Bool("v", false, "log every frame")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: rfcomm [-l] [-c channel] [-v] addr")
		os.Exit(2)
	}
	addr := flag.Arg(0)
	sc := rfcomm.ServerChannel(*channel)
	cfg := rfcomm.Config{NetLog: *netlog}

	if *listen {
		serve(addr, sc, cfg)
		return
	}
	dial(addr, sc, cfg)
}

func serve(addr string, sc rfcomm.ServerChannel, cfg rfcomm.Config) {
	mgr := rfcomm.NewManager(cfg, func(got rfcomm.ServerChannel, ch *rfcomm.Channel) {
		if got != sc {
			ch.Close()
			return
		}
		bridge(ch)
	})
	l, err := rfcomm.ListenTCP(mgr, addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("listening on %s for server channel %d", l.Addr(), sc)
	for {
		sess, err := l.Accept()
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("session %s established", sess.ID())
	}
}

func dial(addr string, sc rfcomm.ServerChannel, cfg rfcomm.Config) {
	mgr := rfcomm.NewManager(cfg, nil)
	sess, err := rfcomm.DialTCP(mgr, addr)
	if err != nil {
		log.Fatal(err)
	}
	opened := make(chan *rfcomm.Channel, 1)
	err = sess.OpenRemoteChannel(sc, func(ch *rfcomm.Channel, _ rfcomm.ServerChannel) {
		opened <- ch
	})
	if err != nil {
		log.Fatal(err)
	}
	ch := <-opened
	if ch == nil {
		log.Fatalf("peer refused channel %d", sc)
	}
	bridge(ch)
	sess.Close()
}

// bridge ties a channel to stdio until either side closes.
func bridge(ch *rfcomm.Channel) {
	done := make(chan struct{})
	go func() {
		io.Copy(ch, os.Stdin)
		ch.Close()
		close(done)
	}()
	io.Copy(os.Stdout, ch)
	<-done
}
