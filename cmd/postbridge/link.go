package main

import (
	"context"

	"github.com/1ureka/postbridge/internal/channel"
	"github.com/1ureka/postbridge/internal/config"
	"github.com/1ureka/postbridge/internal/peer"
	"github.com/1ureka/postbridge/internal/signaling"
	"github.com/1ureka/postbridge/internal/transport"
)

// link is an established connection to the other side: WebRTC or direct
// WebSocket.
type link interface {
	channel.Bus
	channel.Target
	Done() <-chan struct{}
	Close() error
	RemoteOrigin() string
}

func transportOptions(cfg config.Config) transport.Options {
	return transport.Options{STUNServers: cfg.STUNServers, Lossy: cfg.Lossy}
}

// acceptLink waits for a client on srv.
func acceptLink(ctx context.Context, srv *signaling.Server, cfg config.Config) (link, error) {
	if cfg.Direct {
		conn, err := signaling.AcceptDirect(ctx, srv)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	tr, err := signaling.EstablishAsHost(ctx, srv, transportOptions(cfg))
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// dialLink connects to the host at cfg.WSURL.
func dialLink(ctx context.Context, cfg config.Config) (link, error) {
	if cfg.Direct {
		conn, err := signaling.DialDirect(ctx, cfg.WSURL)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	tr, err := signaling.EstablishAsClient(ctx, cfg.WSURL, transportOptions(cfg))
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// newPeer runs a peer over lk with the configured identity and trust rules.
func newPeer(lk link, cfg config.Config, handler peer.Handler) (*peer.Peer, error) {
	return peer.New(peer.Config{
		Sender:         defaultSender(cfg),
		Bus:            lk,
		Target:         lk,
		TargetOrigin:   cfg.TargetOrigin,
		EventValidator: func(ev channel.Event) bool { return cfg.TrustsOrigin(ev.Origin) },
		Handler:        handler,
		RequestTimeout: cfg.RequestTimeout,
	})
}
