// Package storage provides Redis-backed persistence for VNF instances,
// op-occs, grants and subscriptions. Credentials inside stored records are
// sealed with a key derived from the configured encryption secret.
package storage

import (
	"time"

	"github.com/piwi3910/vnfm/internal/models"
)

// OpOccWork is the durable progress record of one op-occ. It is what lets
// retry re-enter the pipeline at the first incomplete step after a failure
// or a restart.
type OpOccWork struct {
	// OpOccID identifies the op-occ.
	OpOccID string `json:"opOccId"`

	// CompletedStep is the last pipeline step that finished.
	CompletedStep int `json:"completedStep"`

	// RollbackStep is the last rollback step that finished.
	RollbackStep int `json:"rollbackStep"`

	// PreOpInstance is the instance as it was before the operation started.
	// Rollback restores it verbatim.
	PreOpInstance *models.VnfInstance `json:"preOpInstance"`

	// WorkingInstance accumulates the changes of completed steps. It is
	// committed to the instance record only on COMPLETED.
	WorkingInstance *models.VnfInstance `json:"workingInstance,omitempty"`

	// UserScriptErrHandlingData is the side-channel data attached by failed
	// hooks, merged across attempts.
	UserScriptErrHandlingData map[string]interface{} `json:"userScriptErrHandlingData,omitempty"`

	// Progress holds operation-specific progress, e.g. the VNFCs already
	// updated by a rolling CHANGE_VNFPKG.
	Progress map[string]interface{} `json:"progress,omitempty"`

	// UpdatedAt is the last time the record was written.
	UpdatedAt time.Time `json:"updatedAt"`
}

// GrantRecord is the audit record of a grant exchange.
type GrantRecord struct {
	OpOccID   string               `json:"opOccId"`
	Request   *models.GrantRequest `json:"request"`
	Grant     *models.Grant        `json:"grant,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
}
