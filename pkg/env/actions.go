package env

import "fmt"

// ActionKind discriminates the four families of agent actions.
type ActionKind int

const (
	ActionTraverse ActionKind = iota
	ActionIncrease
	ActionDecrease
	ActionTerminate
)

func (k ActionKind) String() string {
	switch k {
	case ActionTraverse:
		return "traverse"
	case ActionIncrease:
		return "increase"
	case ActionDecrease:
		return "decrease"
	case ActionTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is one decoded agent action. Target is the destination vertex
// for traversals, Op the operation index for mutations.
type Action struct {
	Kind   ActionKind
	Target int
	Op     int
}

// SpaceSize returns the size of the discrete action space for a cell
// with numNodes vertices and numOps candidate operations: one traversal
// per vertex, an increase and a decrease per operation, and the
// terminal action.
func SpaceSize(numNodes, numOps int) int {
	return numNodes + 2*numOps + 1
}

// DecodeAction resolves a discrete action id into its tagged variant.
// Ids cover, in order: traversals, increases, decreases, terminate.
func DecodeAction(id, numNodes, numOps int) (Action, error) {
	size := SpaceSize(numNodes, numOps)
	if id < 0 || id >= size {
		return Action{}, fmt.Errorf("action %d outside action space of size %d", id, size)
	}
	switch {
	case id < numNodes:
		return Action{Kind: ActionTraverse, Target: id}, nil
	case id < numNodes+numOps:
		return Action{Kind: ActionIncrease, Op: id - numNodes}, nil
	case id < numNodes+2*numOps:
		return Action{Kind: ActionDecrease, Op: id - numNodes - numOps}, nil
	default:
		return Action{Kind: ActionTerminate}, nil
	}
}
