// Package tls defines the EVH-side TLS engine abstraction (spec §4.6/§9:
// "a TLS engine (handshake and record framing)" is an injected
// collaborator, not a core-owned subsystem). The default Engine wraps the
// standard library's crypto/tls; a cgo/OpenSSL engine (as gotcp-epoll's
// ssl.go implements directly against libssl) could satisfy the same
// interface without the worker code changing — see DESIGN.md.
package tls

import (
	"context"
	stdtls "crypto/tls"
	"net"
	"time"

	"github.com/evh/evh/config"
	"github.com/evh/evh/errs"
)

// Session is a framed, encrypted byte stream: handshake complete, ready for
// plain Read/Write/Close. *crypto/tls.Conn already satisfies this.
//
// The deadline methods let a worker adapt crypto/tls's blocking Read/Write
// into the reactor's non-blocking poll loop: setting a read deadline of
// time.Now() before Read forces an immediate return with a timeout error
// when no record is yet available, the TLS-side equivalent of EAGAIN on a
// raw non-blocking fd (see internal/worker/io.go).
type Session interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Engine performs a TLS handshake over a raw, already-connected socket and
// returns the resulting framed Session. Implementations must not block the
// caller indefinitely; pass a context with a deadline where the network
// primitive allows it.
type Engine interface {
	HandshakeServer(ctx context.Context, raw net.Conn) (Session, error)
	HandshakeClient(ctx context.Context, raw net.Conn) (Session, error)
}

// stdEngine is the default Engine, backed by crypto/tls.
type stdEngine struct {
	serverConf *stdtls.Config
	clientConf *stdtls.Config
}

// New builds an Engine from the resolved server/client TLS configuration.
// Either argument may be nil; an Engine with a nil server config rejects
// HandshakeServer, and likewise for a nil client config.
func New(server *config.TLSServerConfig, client *config.TLSClientConfig) (Engine, error) {
	e := &stdEngine{}
	if server != nil {
		cert, err := stdtls.LoadX509KeyPair(server.CertFile, server.KeyFile)
		if err != nil {
			return nil, errs.Wrap(errs.KindTLS, err, "load server certificate/key")
		}
		conf := &stdtls.Config{Certificates: []stdtls.Certificate{cert}}
		if len(server.SNI) > 0 {
			sni := server.SNI
			conf.GetCertificate = func(hello *stdtls.ClientHelloInfo) (*stdtls.Certificate, error) {
				if c, ok := sni[hello.ServerName]; ok {
					return c, nil
				}
				return &cert, nil
			}
		}
		e.serverConf = conf
	}
	if client != nil {
		e.clientConf = &stdtls.Config{
			ServerName: client.ServerName,
			RootCAs:    client.RootCAs,
		}
	}
	return e, nil
}

func (e *stdEngine) HandshakeServer(ctx context.Context, raw net.Conn) (Session, error) {
	if e.serverConf == nil {
		return nil, errs.New(errs.KindTLS, "no server TLS configuration", nil)
	}
	tc := stdtls.Server(raw, e.serverConf)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, errs.Wrap(errs.KindTLS, err, "server handshake")
	}
	return tc, nil
}

func (e *stdEngine) HandshakeClient(ctx context.Context, raw net.Conn) (Session, error) {
	if e.clientConf == nil {
		return nil, errs.New(errs.KindTLS, "no client TLS configuration", nil)
	}
	tc := stdtls.Client(raw, e.clientConf)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, errs.Wrap(errs.KindTLS, err, "client handshake")
	}
	return tc, nil
}
