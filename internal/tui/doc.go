// Package tui provides the terminal status watcher for submitted artifacts.
//
// The watcher polls the job status of every kind for one artifact and renders
// a line per kind with a spinner while work is outstanding. It exits on its
// own once every job reached a terminal status, or when the user presses 'q'
// or Ctrl+C.
//
// Usage:
//
//	model := tui.NewWatchModel(client, ref, time.Second)
//	program := tea.NewProgram(model)
//	final, err := program.Run()
package tui
