package core

import "context"

// Prompter awaits an operator decision.
// How the question is presented is up to the implementation.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, question string) (bool, error)

func (f PrompterFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return f(ctx, question)
}

// AlwaysConfirm is a Prompter that accepts every question, for non-interactive runs.
var AlwaysConfirm Prompter = PrompterFunc(func(context.Context, string) (bool, error) { return true, nil })
