package catalog

import (
	"errors"
	"fmt"

	"github.com/valmeras/chat-gateway/internal/common"
)

// ErrNoVisionModel means the turn carries images but no registered model
// can see them; the caller informs the user instead of invoking a model.
var ErrNoVisionModel = errors.New("no vision-capable model available")

// Selection is the outcome of resolving a requested model id. Notices are
// transient, user-visible lines explaining silent adjustments.
type Selection struct {
	Model   ModelDescriptor
	Notices []string
}

// Select resolves requestedID (possibly "auto") to a concrete descriptor.
//
// Rules, in order: an unknown non-auto id is rejected outright; "auto"
// picks the first vision model when images are present, else the first
// model; an image turn on a non-vision model switches to the first vision
// model with a notice, or fails with ErrNoVisionModel when none exists.
// "First" is catalog declaration order.
func (c *Catalog) Select(requestedID string, hasImages bool) (Selection, error) {
	var sel Selection

	if requestedID != AutoModelID {
		m, ok := c.Get(requestedID)
		if !ok {
			return sel, common.E(common.KindBadRequest, "api",
				fmt.Sprintf("unsupported model %q", requestedID))
		}
		sel.Model = m
	} else {
		if hasImages {
			if vm, ok := c.firstVision(); ok {
				sel.Model = vm
			}
		}
		if sel.Model.ID == "" {
			if len(c.models) == 0 {
				return sel, common.E(common.KindBadRequest, "api", "no chat models registered")
			}
			sel.Model = c.models[0]
		}
	}

	if hasImages && !sel.Model.SupportsVision {
		vm, ok := c.firstVision()
		if !ok {
			return sel, ErrNoVisionModel
		}
		sel.Notices = append(sel.Notices,
			fmt.Sprintf("Model %q cannot process images; switched to %q.", sel.Model.ID, vm.ID))
		sel.Model = vm
	}

	return sel, nil
}
