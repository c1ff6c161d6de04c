// Package dag resolves a target task invocation into a parameterized,
// topologically-ordered execution plan. Node identity is (task_name,
// canonical_args): the same task invoked with different argument bindings
// is a distinct node (spec.md §4.4). Adapted in place from the teacher's
// recipe-graph Builder, which already used Kahn's algorithm for the sort —
// we keep that shape and change node identity from a bare recipe name to
// the (name, args) pair.
package dag

import (
	"sort"

	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/hashing"
	"github.com/tasktreeio/tasktree/internal/model"
)

// PlanNode is one resolved (task, args) pair in the plan.
type PlanNode struct {
	TaskName string
	Args     map[string]string // canonical argument bindings, already defaulted
}

// Key returns the node's identity string: task name plus the args hash,
// using the same canonicalization as the cache key.
func (n PlanNode) Key() string {
	return n.TaskName + "\x00" + hashing.ArgsHash(n.Args)
}

// Plan is the ordered node list plus each node's dependency indices, in the
// same index space as Nodes.
type Plan struct {
	Nodes []PlanNode
	// DepIndices[i] lists indices into Nodes that Nodes[i] depends on.
	DepIndices [][]int
}

// Builder resolves targets against one Recipe.
type Builder struct {
	recipe *model.Recipe
}

// NewBuilder creates a Builder over recipe.
func NewBuilder(recipe *model.Recipe) *Builder {
	return &Builder{recipe: recipe}
}

type buildState struct {
	nodeIndex map[string]int
	nodes     []PlanNode
	deps      [][]int
	visiting  map[string]bool
	chain     []string // task names on the current DFS stack, for cycle diagnostics
}

// Build resolves targetTask(targetArgs) and everything it transitively
// depends on into a Plan whose Nodes are in a valid topological order
// (dependencies strictly before dependents).
func (b *Builder) Build(targetTask string, targetArgs map[string]string) (*Plan, error) {
	st := &buildState{
		nodeIndex: make(map[string]int),
		visiting:  make(map[string]bool),
	}

	if _, err := b.visit(st, targetTask, targetArgs); err != nil {
		return nil, err
	}

	order, err := b.kahnSort(st.nodes, st.deps)
	if err != nil {
		return nil, err
	}

	sortedNodes := make([]PlanNode, len(order))
	sortedDeps := make([][]int, len(order))
	oldToNew := make([]int, len(order))
	for newIdx, oldIdx := range order {
		oldToNew[oldIdx] = newIdx
	}
	for newIdx, oldIdx := range order {
		sortedNodes[newIdx] = st.nodes[oldIdx]
		remapped := make([]int, len(st.deps[oldIdx]))
		for i, d := range st.deps[oldIdx] {
			remapped[i] = oldToNew[d]
		}
		sortedDeps[newIdx] = remapped
	}

	return &Plan{Nodes: sortedNodes, DepIndices: sortedDeps}, nil
}

func (b *Builder) visit(st *buildState, taskName string, args map[string]string) (int, error) {
	task, ok := b.recipe.GetTask(taskName)
	if !ok {
		return -1, &tterrors.TaskNotFoundError{Name: taskName, Available: b.taskNames()}
	}

	key := PlanNode{TaskName: taskName, Args: args}.Key()
	if idx, ok := st.nodeIndex[key]; ok {
		return idx, nil
	}
	if st.visiting[taskName+"\x00"+hashing.ArgsHash(args)] {
		return -1, &tterrors.CycleError{Chain: append(append([]string{}, st.chain...), taskName)}
	}

	st.visiting[key] = true
	st.chain = append(st.chain, taskName)

	var myDeps []int
	for _, depSpec := range task.Deps {
		depArgs, err := b.resolveDepArgs(depSpec)
		if err != nil {
			return -1, err
		}
		depIdx, err := b.visit(st, depSpec.TaskName, depArgs)
		if err != nil {
			return -1, err
		}
		myDeps = append(myDeps, depIdx)
	}

	st.chain = st.chain[:len(st.chain)-1]
	st.visiting[key] = false

	st.nodes = append(st.nodes, PlanNode{TaskName: taskName, Args: args})
	currentIdx := len(st.nodes) - 1
	st.nodeIndex[key] = currentIdx
	st.deps = append(st.deps, myDeps)

	return currentIdx, nil
}

// resolveDepArgs normalizes one dep specification against the dependency
// task's argument specs: positional lists map onto arg order with trailing
// defaults filled in; named maps are validated for unknown/missing names.
func (b *Builder) resolveDepArgs(dep model.DepSpec) (map[string]string, error) {
	depTask, ok := b.recipe.GetTask(dep.TaskName)
	if !ok {
		return nil, &tterrors.TaskNotFoundError{Name: dep.TaskName, Available: b.taskNames()}
	}

	bindings := make(map[string]string, len(depTask.Args))

	switch {
	case dep.Named != nil:
		for name, val := range dep.Named {
			if depTask.ArgSpecByName(name) == nil {
				return nil, &tterrors.ArgumentError{Task: dep.TaskName, Arg: name, Message: "not a declared argument"}
			}
			bindings[name] = val
		}
	case dep.Positional != nil:
		for i, val := range dep.Positional {
			if i >= len(depTask.Args) {
				return nil, &tterrors.ArgumentError{Task: dep.TaskName, Arg: "", Message: "too many positional arguments"}
			}
			bindings[depTask.Args[i].Name] = val
		}
	}

	for _, spec := range depTask.Args {
		if _, ok := bindings[spec.Name]; ok {
			continue
		}
		if spec.Default != nil {
			bindings[spec.Name] = *spec.Default
			continue
		}
		return nil, &tterrors.ArgumentError{Task: dep.TaskName, Arg: spec.Name, Message: "missing required argument"}
	}

	return bindings, nil
}

func (b *Builder) taskNames() []string {
	names := make([]string, 0, len(b.recipe.Tasks))
	for n := range b.recipe.Tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// kahnSort performs Kahn's algorithm over the dependency edges built during
// visit. An empty ready-set before every node is consumed signals a cycle —
// this is a second, independent cycle check on top of the DFS-time one, as
// spec.md §4.4 describes.
func (b *Builder) kahnSort(nodes []PlanNode, deps [][]int) ([]int, error) {
	n := len(nodes)
	if n == 0 {
		return nil, nil
	}

	// adj[d] = list of node indices that depend on d (reverse of deps).
	adj := make([][]int, n)
	inDegree := make([]int, n)
	for i, ds := range deps {
		inDegree[i] = len(ds)
		for _, d := range ds {
			adj[d] = append(adj[d], i)
		}
	}

	var queue []int
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	sort.Ints(queue)

	var order []int
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)

		var newlyReady []int
		for _, next := range adj[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				newlyReady = append(newlyReady, next)
			}
		}
		sort.Ints(newlyReady)
		queue = append(queue, newlyReady...)
	}

	if len(order) != n {
		return nil, &tterrors.CycleError{Chain: []string{"cycle detected during topological sort"}}
	}
	return order, nil
}

// DependencyTreeNode is the nested structure the `tt tree` adapter verb
// renders; see SPEC_FULL.md's supplemented-features section.
type DependencyTreeNode struct {
	Name  string
	Args  map[string]string
	Deps  []*DependencyTreeNode
	Cycle bool
}

// BuildDependencyTree produces a nested (possibly repeating) view of a
// target's dependency structure for the read-only "tree" CLI verb. Unlike
// Build, it does not deduplicate shared subtrees — every dependency edge is
// shown in place, with Cycle set true instead of recursing further whenever
// a task already on the current path reappears.
func (b *Builder) BuildDependencyTree(taskName string, args map[string]string) (*DependencyTreeNode, error) {
	return b.buildTreeNode(taskName, args, nil)
}

func (b *Builder) buildTreeNode(taskName string, args map[string]string, ancestry []string) (*DependencyTreeNode, error) {
	for _, a := range ancestry {
		if a == taskName {
			return &DependencyTreeNode{Name: taskName, Args: args, Cycle: true}, nil
		}
	}

	task, ok := b.recipe.GetTask(taskName)
	if !ok {
		return nil, &tterrors.TaskNotFoundError{Name: taskName, Available: b.taskNames()}
	}

	node := &DependencyTreeNode{Name: taskName, Args: args}
	path := append(append([]string{}, ancestry...), taskName)

	for _, depSpec := range task.Deps {
		depArgs, err := b.resolveDepArgs(depSpec)
		if err != nil {
			return nil, err
		}
		child, err := b.buildTreeNode(depSpec.TaskName, depArgs, path)
		if err != nil {
			return nil, err
		}
		node.Deps = append(node.Deps, child)
	}

	return node, nil
}
