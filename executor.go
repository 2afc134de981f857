package strata

import "fmt"

// executor runs a built operation list against a device. It binds targets,
// clears every offscreen pass once per execution and keeps the active
// program across operations, merging consecutive quad operations when the
// programs allow it.
type executor struct {
	dev    Device
	active Program

	pending    QuadOperation
	hasPending bool

	// drawCalls counts program Draw invocations of the last execution.
	drawCalls int
}

func newExecutor(dev Device) *executor {
	return &executor{dev: dev}
}

// execute runs ops, drawing stage-target operations into main.
func (e *executor) execute(ops []Operation, infos []*RenderTextureInfo, main GPUTexture) {
	for _, info := range infos {
		info.Cleared = false
	}
	e.drawCalls = 0
	for _, op := range ops {
		switch op := op.(type) {
		case *QuadOperation:
			e.queue(op, main)
		case *FilterOperation:
			e.flush()
			e.runFilter(op)
		}
	}
	e.flush()
	if e.active != nil {
		e.active.StopProgram()
		e.active = nil
	}
}

// queue adds op to the pending run, or flushes the pending run and starts
// a new one.
func (e *executor) queue(op *QuadOperation, main GPUTexture) {
	if e.hasPending && e.canMerge(op) {
		e.pending.Length += op.Length
		return
	}
	e.flush()
	e.pending = *op
	e.hasPending = true
	if info := op.RenderTexture; info != nil {
		e.bind(info)
		e.pending.target = info.Texture
	} else {
		e.pending.target = main
	}
}

// canMerge reports whether op continues the pending run: same target and
// scissor, adjacent in the quad buffer, and a program that shares the
// pending program's GPU program and accepts merging.
func (e *executor) canMerge(op *QuadOperation) bool {
	p := &e.pending
	if !p.sameTarget(op) || p.Index+p.Length != op.Index {
		return false
	}
	if p.Program == op.Program && p.Owner == op.Owner {
		return true
	}
	return p.Program.HasSameProgram(op.Program) && op.Program.SupportsMerging()
}

// bind clears an offscreen pass the first time it is drawn into.
func (e *executor) bind(info *RenderTextureInfo) {
	if info.Cleared || info.Reused {
		return
	}
	e.dev.Clear(info.Texture)
	info.Cleared = true
}

// flush draws the pending run.
func (e *executor) flush() {
	if !e.hasPending {
		return
	}
	e.hasPending = false
	op := &e.pending
	p := op.Program
	if e.active == nil || !e.active.HasSameProgram(p) {
		if e.active != nil {
			e.active.StopProgram()
		}
		p.UseProgram()
		e.active = p
	}
	if err := drawSafely(p, op); err != nil {
		logger.Error("quad operation failed", "quads", op.Length, "error", err)
	}
	e.drawCalls++
}

// drawSafely runs a program's uniform setup and draw, turning a panic into
// an error so one failing program cannot abort the frame.
func drawSafely(p Program, op *QuadOperation) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("strata: program panicked: %v", rec)
		}
	}()
	p.SetupUniforms(op)
	return p.Draw(op)
}

// runFilter executes one filter pass. The target is cleared before every
// pass since a chain writes into the same texture more than once.
func (e *executor) runFilter(op *FilterOperation) {
	e.dev.Clear(op.Target.Texture)
	op.Target.Cleared = true
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("strata: filter panicked: %v", rec)
			}
		}()
		return op.Filter.Apply(e.dev, op.Source.Texture, op.Target.Texture)
	}()
	if err != nil {
		name := ""
		if op.Owner != nil {
			name = op.Owner.Name
		}
		logger.Error("filter failed", "node", name, "error", err)
	}
	e.drawCalls++
}
