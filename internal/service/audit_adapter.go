package service

// audit_adapter.go bridges audit.Writer to the SQLite store.

import (
	"log"

	"github.com/desksrv/host/internal/audit"
	"github.com/desksrv/host/internal/storage"
)

// AuditStoreAdapter persists audit events to SQLite and logs them.
type AuditStoreAdapter struct {
	store   *storage.SQLiteStore
	maxRows int
}

// NewAuditStoreAdapter creates a durable audit writer keeping at most
// maxRows rows.
func NewAuditStoreAdapter(store *storage.SQLiteStore, maxRows int) *AuditStoreAdapter {
	return &AuditStoreAdapter{store: store, maxRows: maxRows}
}

// WriteAudit saves the event and logs it.
func (a *AuditStoreAdapter) WriteAudit(e audit.Event) error {
	entry := &storage.AuditEntry{
		Kind:       e.Kind,
		ConnID:     e.ConnID,
		RemoteAddr: e.RemoteAddr,
		Detail:     e.Detail,
		At:         e.At,
	}
	if err := a.store.SaveAndPruneAudit(entry, a.maxRows); err != nil {
		log.Printf("audit: durable write failed: %v", err)
		return err
	}
	logEvent(e)
	return nil
}

// logAudit is used when no store could be opened.
type logAudit struct{}

func (logAudit) WriteAudit(e audit.Event) error {
	logEvent(e)
	return nil
}

func logEvent(e audit.Event) {
	log.Printf("audit: kind=%s conn=%s remote=%s detail=%q", e.Kind, e.ConnID, e.RemoteAddr, e.Detail)
}
