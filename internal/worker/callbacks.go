package worker

import "github.com/evh/evh/internal/conn"

// The five user-supplied callbacks (spec §6 "Callbacks", §9: "capability
// traits with a small object-safe surface only where plugin-style
// extension is genuinely required"). Kept as plain function values rather
// than an interface — the set is small, fixed, and immutable after start.
type (
	OnAcceptFunc      func(c *conn.Conn) error
	OnReadFunc        func(c *conn.Conn, ctx *ReadContext) error
	OnCloseFunc       func(c *conn.Conn) error
	OnHousekeeperFunc func(tc *ThreadContext) error
	OnPanicFunc       func(connID uint64, info any) error
)

// Callbacks bundles the five callbacks; once passed to a running
// Controller, none of its fields may change (spec §4.7: "Once start is
// called, callbacks are immutable").
type Callbacks struct {
	OnAccept      OnAcceptFunc
	OnRead        OnReadFunc
	OnClose       OnCloseFunc
	OnHousekeeper OnHousekeeperFunc
	OnPanic       OnPanicFunc
}
