package cpu

// backward computes gradients of out with respect to every node it depends on.
//
// Algorithm:
//  1. Order the graph reachable from out topologically
//  2. Seed out with a gradient of ones
//  3. Walk the order in reverse, applying each node's vjp
//  4. Accumulate gradients when a node feeds several consumers
//
// Returns a map from node to its accumulated gradient. Nodes that out does not
// depend on have no entry.
func backward(out *node) map[*node][]float32 {
	order := topoSort(out)

	grads := make(map[*node][]float32, len(order))
	seed := make([]float32, out.size())
	for i := range seed {
		seed[i] = 1
	}
	grads[out] = seed

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		g, ok := grads[n]
		if !ok || n.vjp == nil {
			continue
		}
		inputGrads := n.vjp(g)
		for j, in := range n.inputs {
			if j >= len(inputGrads) || inputGrads[j] == nil {
				continue
			}
			accumulate(grads, in, inputGrads[j])
		}
	}
	return grads
}

func accumulate(grads map[*node][]float32, n *node, g []float32) {
	existing, ok := grads[n]
	if !ok {
		grads[n] = g
		return
	}
	sum := make([]float32, len(existing))
	for i := range existing {
		sum[i] = existing[i] + g[i]
	}
	grads[n] = sum
}

// topoSort returns the nodes reachable from root with every node placed after
// its inputs.
func topoSort(root *node) []*node {
	var (
		order   []*node
		visited = make(map[*node]bool)
	)
	type frame struct {
		n    *node
		next int
	}
	stack := []frame{{n: root}}
	visited[root] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.n.inputs) {
			in := top.n.inputs[top.next]
			top.next++
			if !visited[in] {
				visited[in] = true
				stack = append(stack, frame{n: in})
			}
			continue
		}
		order = append(order, top.n)
		stack = stack[:len(stack)-1]
	}
	return order
}
