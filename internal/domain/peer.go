// Package domain contains entity without logic, just meta-data
package domain

import (
	"strconv"
	"time"
)

// ClientID is the server-assigned ordinal sent in the welcome envelope.
type ClientID uint64

func (id ClientID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Peer is the transport-independent identity of one connection.
type Peer struct {
	ID          ClientID
	Token       string // cookie token, shared by every tab of one browser
	RemoteAddr  string
	ConnectedAt time.Time
}

// NewPeer stamps the connection time.
func NewPeer(id ClientID, token, remoteAddr string) *Peer {
	return &Peer{ID: id, Token: token, RemoteAddr: remoteAddr, ConnectedAt: time.Now()}
}
