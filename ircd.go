/*
 * IRC daemon.
 */

package main

import (
	"log"
	"time"
)

// IRCd holds the state for a running server: every connected Client, every
// Channel, and the single-threaded Reactor that owns all of their sockets.
// Everything here runs on one goroutine; there is no lock because there is
// no concurrent access.
type IRCd struct {
	config  *Config
	clients *ClientDatabase
	channels *ChannelDatabase
	reactor *Reactor
	uuids   UUIDSource
}

func main() {
	log.SetFlags(0)

	args := getArgs()
	if args == nil {
		log.Fatal("unable to parse arguments")
	}

	config, err := LoadConfig(args.ConfigFile)
	if err != nil {
		log.Fatal(err)
	}
	if len(args.ServerName) > 0 {
		config.ServerName = args.ServerName
	}

	ird, err := newIRCd(config)
	if err != nil {
		log.Fatal(err)
	}

	if err := ird.start(); err != nil {
		log.Fatal(err)
	}

	log.Printf("Server shutdown cleanly.")
}

func newIRCd(config *Config) (*IRCd, error) {
	uuids := NewUUIDSource()
	ird := &IRCd{
		config:   config,
		clients:  NewClientDatabase(uuids),
		channels: NewChannelDatabase(),
		reactor:  NewReactor(config.MaxRetries),
		uuids:    uuids,
	}
	return ird, nil
}

// start opens the listening port, links any configured peers, and runs the
// reactor loop until a fatal error occurs.
func (ird *IRCd) start() error {
	listenAddr := ird.config.ListenHost + ":" + ird.config.ListenPort
	listener, err := NewListenerSocket(listenAddr, ird.config.Backlog, ird.reactor.NextEpoch())
	if err != nil {
		return err
	}

	listenerUUID := ird.uuids.Next()
	ird.reactor.RegisterListener(listener, listenerUUID)
	log.Printf("ircd: listening on %s", listenAddr)

	if len(ird.config.PeerLinksFile) > 0 {
		if err := ird.linkConfiguredPeers(); err != nil {
			log.Printf("ircd: problem linking configured peers: %s", err)
		}
	}

	ticker := time.NewTicker(ird.config.WakeupTime)
	defer ticker.Stop()

	for {
		if err := ird.reactor.RunOnce(); err != nil {
			return err
		}

		ird.resolveLifecycleEvents()
		ird.dispatchInbound()
		ird.flushOutbound()

		<-ticker.C
	}
}

// linkConfiguredPeers dials every server named in the peer-links file,
// blocking for each connection per spec.md §6 (startup links are expected
// to be few and local, so a blocking dial is an acceptable simplification).
func (ird *IRCd) linkConfiguredPeers() error {
	links, err := readPeerLinks(ird.config.PeerLinksFile)
	if err != nil {
		return err
	}

	for _, link := range links {
		sock, err := Connect(link.Addr, true, ird.reactor.NextEpoch())
		if err != nil {
			log.Printf("ircd: unable to link to %s (%s): %s", link.Name, link.Addr, err)
			continue
		}
		client := ird.clients.NewAcceptedClient(sock, link.Addr)
		ird.reactor.RegisterConnection(sock, client.UUID)

		serverMsg := RawMessage{
			Command: Command{
				Name:       "SERVER",
				Parameters: []string{ird.config.ServerName, "1"},
				Trailing:   ird.config.ServerInfo,
				hasTrailing: true,
			},
		}
		line, err := serverMsg.Serialize()
		if err != nil {
			continue
		}
		_ = client.Push(line)
		log.Printf("ircd: dialed peer %s at %s", link.Name, link.Addr)
	}
	return nil
}

// resolveLifecycleEvents claims every socket the reactor accepted this
// tick, minting a UUID, registering it, and queueing the empty-Line
// "new connection" signal. Disconnect signals are handled by
// dispatchInbound.
func (ird *IRCd) resolveLifecycleEvents() {
	for _, sock := range ird.reactor.PendingAccepts() {
		client := ird.clients.NewAcceptedClient(sock, sock.RemoteAddr())
		ird.reactor.RegisterConnection(sock, client.UUID)
		ird.reactor.SignalNewConnection(client.UUID)
		log.Printf("ircd: accepted connection %s from %s", client.UUID, sock.RemoteAddr())
	}
}

// dispatchInbound drains the reactor's inbound queue. An empty Line means
// either a brand new connection (already registered by
// resolveLifecycleEvents, nothing further to do) or a socket the reactor
// already tore down (clean up the Client); anything else is a wire line to
// parse and dispatch.
func (ird *IRCd) dispatchInbound() {
	for _, msg := range ird.reactor.Inbound() {
		if len(msg.Line) == 0 {
			if ird.reactor.HasSocket(msg.UUID) {
				// A new connection; resolveLifecycleEvents already registered it.
				continue
			}
			ird.disconnectClient(msg.UUID, "Connection reset by peer")
			continue
		}

		client, ok := ird.clients.GetClient(msg.UUID)
		if !ok {
			continue
		}

		raw, err := ParseMessage(msg.Line)
		if err != nil {
			ird.numeric(client, "421", []string{msg.Line}, "Malformed message")
			continue
		}

		ird.Dispatch(msg.UUID, raw)
	}
}

// flushOutbound moves every local client's pending lines into the
// reactor's retry-bounded outbound queue. It tears nothing down; clients
// whose socket the reactor lost are cleaned up by dispatchInbound's
// empty-Line branch.
func (ird *IRCd) flushOutbound() {
	for uuid, client := range ird.clients.clients {
		if !client.IsLocal() {
			continue
		}
		for _, line := range client.DrainOutbound() {
			ird.reactor.Enqueue(uuid, line)
		}
	}
}
