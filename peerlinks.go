package main

import "summercat.com/config"

// peerLink is one entry in the peer-links file: a server name this server
// should dial outbound at startup, and the host:port to dial.
type peerLink struct {
	Name string
	Addr string
}

// readPeerLinks parses a peer-links file in the same "key = value" syntax
// as the main config file: each line names a peer server, its value its
// dial address.
func readPeerLinks(path string) ([]peerLink, error) {
	raw, err := config.ReadStringMap(path)
	if err != nil {
		return nil, err
	}

	links := make([]peerLink, 0, len(raw))
	for name, addr := range raw {
		links = append(links, peerLink{Name: name, Addr: addr})
	}
	return links, nil
}
