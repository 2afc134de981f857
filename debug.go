package strata

import (
	"fmt"
	"time"
)

// FrameStats holds per-frame timing and batching metrics. Timings are only
// measured in debug mode.
type FrameStats struct {
	Frame int64
	// Updated is false when the update pass found nothing to do.
	Updated bool
	// Built is false when the previous operation list was executed again.
	Built bool

	Operations     int
	Quads          int
	DrawCalls      int
	RenderTextures int
	DroppedQuads   int

	UpdateTime  time.Duration
	BuildTime   time.Duration
	ExecuteTime time.Duration
}

// logStats writes the frame's stats at debug level.
func (s *Stage) logStats() {
	st := &s.stats
	logger.Debug("frame",
		"frame", st.Frame,
		"updated", st.Updated,
		"built", st.Built,
		"operations", st.Operations,
		"quads", st.Quads,
		"draw_calls", st.DrawCalls,
		"render_textures", st.RenderTextures,
		"update", st.UpdateTime,
		"build", st.BuildTime,
		"execute", st.ExecuteTime,
		"total", st.UpdateTime+st.BuildTime+st.ExecuteTime)
}

// debugCheckDestroyed panics with a descriptive message when a destroyed
// node is used in a tree operation. Only called in debug mode.
func debugCheckDestroyed(n *Node, op string) {
	if n.destroyed {
		panic(fmt.Sprintf("strata debug: %s on destroyed node %q (ID was %d)", op, n.Name, n.ID))
	}
}

// debugCheckTreeDepth warns if tree depth exceeds the threshold.
const debugMaxTreeDepth = 32

func debugCheckTreeDepth(n *Node) {
	depth := 0
	for p := n; p != nil; p = p.parent {
		depth++
	}
	if depth > debugMaxTreeDepth {
		logger.Warn("tree depth over threshold", "depth", depth, "threshold", debugMaxTreeDepth, "node", n.Name)
	}
}

// debugCheckChildCount warns if a node has more than 1000 children.
const debugMaxChildCount = 1000

func debugCheckChildCount(n *Node) {
	if len(n.children) > debugMaxChildCount {
		logger.Warn("child count over threshold", "node", n.Name, "children", len(n.children), "threshold", debugMaxChildCount)
	}
}

// countQuads sums the quads of the quad operations in ops.
func countQuads(ops []Operation) int {
	count := 0
	for _, op := range ops {
		if q, ok := op.(*QuadOperation); ok {
			count += q.Length
		}
	}
	return count
}
