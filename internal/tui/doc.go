// Package tui provides the interactive confirmation picker for taskloom.
//
// When a run suspends on an ambiguous task, the resume and run commands
// show the picker instead of asking for a typed label:
//
//	label, err := tui.Pick(result.Confirmation)
//	if errors.Is(err, tui.ErrAborted) {
//	    // leave the run suspended
//	}
//
// The picker lists the ambiguous task, the candidate items the tool
// reported, every option with its description, and the numbered chain of
// tasks still to run. Options are chosen with the arrow keys and enter, or
// directly with their number. Esc and ctrl+c leave without answering.
package tui
