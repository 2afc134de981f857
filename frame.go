package strata

// frameContext carries the per-frame counters and change flags of a stage.
// It is reset at the start of every update pass and passed by reference
// through the tree walk.
type frameContext struct {
	// frame counts Update calls since the stage was created.
	frame int64

	// treeOrder is handed out in update order; z-sorting breaks ties with it.
	treeOrder uint32
	// treeOrderForce is positive while a z-context below the current node
	// needs fresh tree order, forcing traversal of unchanged nodes.
	treeOrderForce int

	// hasUpdates is set by any mutation that requires an update pass.
	hasUpdates bool
	// renderNeeded is set by any mutation that changes the operation list.
	renderNeeded bool
}

// beginUpdate resets the per-pass counters.
func (fc *frameContext) beginUpdate() {
	fc.treeOrder = 0
	fc.treeOrderForce = 0
	fc.hasUpdates = false
}

// nextTreeOrder returns the next tree order value.
func (fc *frameContext) nextTreeOrder() uint32 {
	fc.treeOrder++
	return fc.treeOrder
}
