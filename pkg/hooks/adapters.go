package hooks

import "context"

// The On* adapters wrap a typed callback as a HandlerFunc. Events of other
// kinds pass through untouched, so a single chain can hold handlers for
// different lifecycle points.

func OnPreReasoning(fn func(ctx context.Context, ev *PreReasoning) error) HandlerFunc {
	return func(ctx context.Context, ev Event) (Event, error) {
		if e, ok := ev.(*PreReasoning); ok {
			if err := fn(ctx, e); err != nil {
				return nil, err
			}
			return e, nil
		}
		return ev, nil
	}
}

func OnPostReasoning(fn func(ctx context.Context, ev *PostReasoning) error) HandlerFunc {
	return func(ctx context.Context, ev Event) (Event, error) {
		if e, ok := ev.(*PostReasoning); ok {
			if err := fn(ctx, e); err != nil {
				return nil, err
			}
			return e, nil
		}
		return ev, nil
	}
}

func OnPreActing(fn func(ctx context.Context, ev *PreActing) error) HandlerFunc {
	return func(ctx context.Context, ev Event) (Event, error) {
		if e, ok := ev.(*PreActing); ok {
			if err := fn(ctx, e); err != nil {
				return nil, err
			}
			return e, nil
		}
		return ev, nil
	}
}

func OnPostActing(fn func(ctx context.Context, ev *PostActing) error) HandlerFunc {
	return func(ctx context.Context, ev Event) (Event, error) {
		if e, ok := ev.(*PostActing); ok {
			if err := fn(ctx, e); err != nil {
				return nil, err
			}
			return e, nil
		}
		return ev, nil
	}
}

func OnReasoningChunk(fn func(ctx context.Context, ev *ReasoningChunk) error) HandlerFunc {
	return func(ctx context.Context, ev Event) (Event, error) {
		if e, ok := ev.(*ReasoningChunk); ok {
			return e, fn(ctx, e)
		}
		return ev, nil
	}
}

func OnActingChunk(fn func(ctx context.Context, ev *ActingChunk) error) HandlerFunc {
	return func(ctx context.Context, ev Event) (Event, error) {
		if e, ok := ev.(*ActingChunk); ok {
			return e, fn(ctx, e)
		}
		return ev, nil
	}
}

func OnPreCall(fn func(ctx context.Context, ev *PreCall) error) HandlerFunc {
	return func(ctx context.Context, ev Event) (Event, error) {
		if e, ok := ev.(*PreCall); ok {
			return e, fn(ctx, e)
		}
		return ev, nil
	}
}

func OnPostCall(fn func(ctx context.Context, ev *PostCall) error) HandlerFunc {
	return func(ctx context.Context, ev Event) (Event, error) {
		if e, ok := ev.(*PostCall); ok {
			return e, fn(ctx, e)
		}
		return ev, nil
	}
}

func OnError(fn func(ctx context.Context, ev *Error) error) HandlerFunc {
	return func(ctx context.Context, ev Event) (Event, error) {
		if e, ok := ev.(*Error); ok {
			return e, fn(ctx, e)
		}
		return ev, nil
	}
}
