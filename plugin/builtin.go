//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package plugin

import (
	"trpc.group/trpc-go/trpc-xpert-go/middleware/clienttool"
	"trpc.group/trpc-go/trpc-xpert-go/middleware/hitl"
	"trpc.group/trpc-go/trpc-xpert-go/middleware/todo"
)

// The configuration-free first-party middlewares register themselves as
// plugins, so PLUGINS=todo works out of the box. Configurable ones get a
// constructor instead.
func init() {
	Register(New(todo.Name, WithMiddlewares(todo.New())))
}

// HITL builds a plugin pausing the listed tools for human review.
func HITL(interruptOn map[string]hitl.ReviewConfig) Plugin {
	return New(hitl.Name, WithMiddlewares(hitl.New(interruptOn)))
}

// ClientTools builds a plugin routing the named tools to the client for
// execution.
func ClientTools(names ...string) Plugin {
	return New(clienttool.Name, WithMiddlewares(clienttool.New(names...)))
}
