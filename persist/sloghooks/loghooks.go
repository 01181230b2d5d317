// Package sloghooks reports persist.Hooks events through log/slog.
package sloghooks

import (
	"log/slog"

	"github.com/unkn0wn-root/tcms/persist"
)

type Options struct {
	// DropEvery samples RecordDropped; 0/1 = log all.
	DropEvery uint64
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	dropCtr uint64
}

var _ persist.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) sample() bool {
	n := h.opts.DropEvery
	if n == 0 || n == 1 {
		return true
	}
	h.dropCtr++
	return h.dropCtr%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tcms.persist.self_heal", "key", storageKey, "reason", reason)
}

func (h *Hooks) RecordDropped(key, reason string) {
	if h.l == nil || !h.sample() {
		return
	}
	h.l.Debug("tcms.persist.record_dropped", "key", key, "reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tcms.persist.provider_set_rejected", "key", storageKey)
}

func (h *Hooks) GenSnapshotError(count int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tcms.persist.gen_snapshot_error", "count", count, "err", err)
}

func (h *Hooks) GenBumpError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tcms.persist.gen_bump_error", "key", key, "err", err)
}
