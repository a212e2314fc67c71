package worker

import (
	"context"

	"github.com/evh/evh/internal/conn"
	"github.com/evh/evh/internal/dispatch"
	"github.com/evh/evh/internal/poller"
	"github.com/evh/evh/internal/registry"
)

// adopt registers a handed-off connection with this worker: assigns it a
// process-unique id, performs a TLS handshake if configured, registers the
// fd with the poller, and fires on_accept (spec §4.1/§4.6/§4.7).
func (w *Worker) adopt(h *dispatch.Handoff) {
	defer w.handoffPool.Put(h)

	role := conn.RoleServerAccepted
	if h.Outbound {
		role = conn.RoleOutboundClient
	}

	id := w.idGen.Add(1)
	c := conn.New(id, h.Fd, role, w.index)
	c.Raw = h.Raw

	if err := w.maybeHandshakeTLS(c, h); err != nil {
		w.logger.Warn().Err(err).Msg("tls handshake failed")
		w.counters.IncErrors()
		closeRaw(c)
		notifyAdopted(h, 0, err)
		return
	}

	w.registry.Add(c)
	if w.directory != nil {
		w.directory.Put(id, registry.DirectoryEntry{Conn: c, Notifier: w})
	}
	if err := w.poll.Register(h.Fd, poller.Readable, id); err != nil {
		w.logger.Error().Err(err).Msg("poller register failed")
		w.registry.Remove(c)
		if w.directory != nil {
			w.directory.Delete(id)
		}
		closeRaw(c)
		w.counters.IncErrors()
		notifyAdopted(h, 0, err)
		return
	}
	w.counters.IncAccepts()
	notifyAdopted(h, id, nil)
	w.invokeOnAccept(c)
}

func notifyAdopted(h *dispatch.Handoff, id uint64, err error) {
	if h.Adopted != nil {
		h.Adopted(id, err)
	}
}

// maybeHandshakeTLS performs the handshake for a connection whose role and
// the worker's configuration both call for TLS, attaching the resulting
// Session to c.TLS. A nil tlsEngine or a Handoff with no net.Conn attached
// (only possible for a test-injected raw fd) means plaintext.
func (w *Worker) maybeHandshakeTLS(c *conn.Conn, h *dispatch.Handoff) error {
	if w.tlsEngine == nil || h.Raw == nil {
		return nil
	}
	wantsServerTLS := c.Role == conn.RoleServerAccepted && w.cfg.TLSServer != nil
	wantsClientTLS := c.Role == conn.RoleOutboundClient && w.cfg.TLSClient != nil
	if !wantsServerTLS && !wantsClientTLS {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), tlsHandshakeTimeout)
	defer cancel()
	var err error
	if wantsServerTLS {
		c.TLS, err = w.tlsEngine.HandshakeServer(ctx, h.Raw)
	} else {
		c.TLS, err = w.tlsEngine.HandshakeClient(ctx, h.Raw)
	}
	return err
}
