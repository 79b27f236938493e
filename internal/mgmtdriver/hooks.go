// Package mgmtdriver runs the lifecycle hook scripts shipped in VNF
// packages. A hook receives one JSON document on stdin and may print one
// JSON document as the last line of its stdout.
package mgmtdriver

import (
	"errors"
	"fmt"

	"github.com/piwi3910/vnfm/internal/models"
)

// ErrUnknownOperation is returned for an operation without hooks.
var ErrUnknownOperation = errors.New("no hooks defined for operation")

// HookSet names the four hook points of one operation.
type HookSet struct {
	Start         string
	End           string
	RollbackStart string
	RollbackEnd   string
}

func newHookSet(name string) HookSet {
	return HookSet{
		Start:         name + "_start",
		End:           name + "_end",
		RollbackStart: name + "_rollback_start",
		RollbackEnd:   name + "_rollback_end",
	}
}

var hookSets = map[models.Operation]HookSet{
	models.OpInstantiate:   newHookSet("instantiate"),
	models.OpScale:         newHookSet("scale"),
	models.OpHeal:          newHookSet("heal"),
	models.OpTerminate:     newHookSet("terminate"),
	models.OpChangeExtConn: newHookSet("change_external_connectivity"),
	models.OpChangeVnfPkg:  newHookSet("change_current_package"),
	models.OpModifyInfo:    newHookSet("modify_information"),
}

// HooksFor returns the hook names of an operation.
func HooksFor(op models.Operation) (HookSet, error) {
	h, ok := hookSets[op]
	if !ok {
		return HookSet{}, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	return h, nil
}
