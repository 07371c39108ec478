// Package orchestrator drives one user request to a final answer.
//
// With tools available the request runs as a ConversationalLoop: the chat
// model sees the transcript and the tool catalog, requests tool calls, sees
// their observations, and eventually answers in plain text. The loop is
// bounded by MaxTurns model calls; running out of turns yields an apology
// result, not an error.
//
// With no tools registered the request runs as a DirectPatternMatch: a
// single `name(key=value, ...)` call in the user text is executed directly
// and the chat model is never called.
//
// Usage:
//
//	loop := orchestrator.New(model, cache, runner, orchestrator.Settings{
//		Model:    "gpt-4o-mini",
//		MaxTurns: 5,
//	}, orchestrator.WithCallback(orchestrator.NewPackageLoggerCallback(logger)))
//
//	res, err := loop.Run(ctx, "add 1 and 2", func(msg string) {
//		fmt.Println(msg)
//	})
package orchestrator
