package effects

// Plan selects which effects in a stack run this frame, honoring the
// solo/bypass rules:
//
//   - bypassed effects are always skipped
//   - when any effect in the stack is soloed, only soloed (non-bypassed)
//     effects run
//
// The returned slice preserves stack order. An empty plan means the stack
// output equals the stack input.
func Plan(stack []*Instance) []*Instance {
	anySolo := false
	for _, e := range stack {
		if e.Soloed && !e.Bypassed {
			anySolo = true
			break
		}
	}

	var plan []*Instance
	for _, e := range stack {
		if e.Bypassed {
			continue
		}
		if anySolo && !e.Soloed {
			continue
		}
		plan = append(plan, e)
	}
	return plan
}

// PassCount returns the total number of render passes the plan will
// encode, accounting for multi-pass effects.
func PassCount(plan []*Instance) int {
	n := 0
	for _, e := range plan {
		n += e.desc.Passes
	}
	return n
}
